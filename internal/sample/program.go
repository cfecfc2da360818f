// SPDX-License-Identifier: MPL-2.0

package sample

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"codeden-cli/internal/descriptor"
)

const (
	sourceSuffix = ".sample"

	nodemonVersion = "^3.0.0"
	javaRelease    = "17"
)

//go:embed sources
var sources embed.FS

// ErrNoSample is returned by Detect when a directory holds no known sample.
var ErrNoSample = errors.New("no sample program found")

type (
	// File is one file of a sample program, relative to the workspace root.
	File struct {
		Path string
		Data []byte
		Mode fs.FileMode
	}

	// Program is the sample for one language and the command that runs it
	// from the workspace root.
	Program struct {
		Language descriptor.Language
		Files    []File
		Command  []string
	}

	language struct {
		// marker identifies a workspace holding this sample.
		marker  string
		command []string
		extra   func(name string) ([]File, error)
	}

	cargoManifest struct {
		Package      cargoPackage      `toml:"package"`
		Dependencies map[string]string `toml:"dependencies"`
	}

	cargoPackage struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
		Edition string `toml:"edition"`
	}

	packageJSON struct {
		Name            string            `json:"name"`
		Version         string            `json:"version"`
		Description     string            `json:"description"`
		Main            string            `json:"main"`
		Scripts         map[string]string `json:"scripts"`
		License         string            `json:"license"`
		DevDependencies map[string]string `json:"devDependencies,omitempty"`
	}
)

var languages = map[descriptor.Language]language{
	descriptor.LangPython: {marker: "main.py", command: []string{"python3", "main.py"}},
	descriptor.LangNodeJS: {marker: "index.js", command: []string{"node", "index.js"}, extra: nodeFiles},
	// Single-file source launch needs no separate javac step.
	descriptor.LangJava: {marker: "HelloWorld.java", command: []string{"java", "HelloWorld.java"}, extra: javaFiles},
	descriptor.LangGo:   {marker: "go.mod", command: []string{"go", "run", "."}, extra: goFiles},
	descriptor.LangRust: {marker: "Cargo.toml", command: []string{"cargo", "run", "--quiet"}, extra: rustFiles},
}

// For returns the sample program for lang. name becomes the package or
// module name where the language needs one.
func For(lang descriptor.Language, name descriptor.Name) (Program, error) {
	l, ok := languages[lang]
	if !ok {
		return Program{}, &descriptor.UnknownLanguageError{Value: string(lang)}
	}
	if name == "" {
		name = descriptor.Name(lang)
	}
	files, err := embedded(lang)
	if err != nil {
		return Program{}, err
	}
	if l.extra != nil {
		more, err := l.extra(name.Repository())
		if err != nil {
			return Program{}, fmt.Errorf("%s sample: %w", lang, err)
		}
		files = append(files, more...)
	}
	return Program{Language: lang, Files: files, Command: append([]string(nil), l.command...)}, nil
}

// Detect reports which language sample dir holds, by marker file.
func Detect(dir string) (descriptor.Language, error) {
	for _, lang := range descriptor.Languages() {
		l, ok := languages[lang]
		if !ok {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, l.marker)); err == nil {
			return lang, nil
		}
	}
	return "", fmt.Errorf("%s: %w", dir, ErrNoSample)
}

// Command returns the command that runs the sample of lang.
func Command(lang descriptor.Language) ([]string, error) {
	l, ok := languages[lang]
	if !ok {
		return nil, &descriptor.UnknownLanguageError{Value: string(lang)}
	}
	return append([]string(nil), l.command...), nil
}

func embedded(lang descriptor.Language) ([]File, error) {
	root := "sources/" + string(lang)
	entries, err := sources.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s sample: %w", lang, err)
	}
	files := make([]File, 0, len(entries))
	for _, e := range entries {
		data, err := sources.ReadFile(root + "/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read embedded %s sample: %w", lang, err)
		}
		path := e.Name()[:len(e.Name())-len(sourceSuffix)]
		if lang == descriptor.LangRust {
			path = "src/" + path
		}
		files = append(files, File{Path: path, Data: data, Mode: 0o644})
	}
	return files, nil
}

func nodeFiles(name string) ([]File, error) {
	data, err := json.MarshalIndent(packageJSON{
		Name:            name,
		Version:         "1.0.0",
		Description:     "Node.js development workspace",
		Main:            "index.js",
		Scripts:         map[string]string{"start": "node index.js", "dev": "nodemon index.js"},
		License:         "MIT",
		DevDependencies: map[string]string{"nodemon": nodemonVersion},
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return []File{{Path: "package.json", Data: append(data, '\n'), Mode: 0o644}}, nil
}

// javaFiles writes a Maven project descriptor beside the single-file
// sample; name is already restricted to [a-z0-9-].
func javaFiles(name string) ([]File, error) {
	pom := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0"
         xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
         xsi:schemaLocation="http://maven.apache.org/POM/4.0.0 http://maven.apache.org/xsd/maven-4.0.0.xsd">
    <modelVersion>4.0.0</modelVersion>

    <groupId>com.example</groupId>
    <artifactId>%s</artifactId>
    <version>1.0.0</version>
    <packaging>jar</packaging>

    <properties>
        <maven.compiler.release>%s</maven.compiler.release>
        <project.build.sourceEncoding>UTF-8</project.build.sourceEncoding>
    </properties>

    <build>
        <sourceDirectory>.</sourceDirectory>
    </build>
</project>
`, name, javaRelease)
	return []File{{Path: "pom.xml", Data: []byte(pom), Mode: 0o644}}, nil
}

func goFiles(name string) ([]File, error) {
	mod := fmt.Sprintf("module %s\n\ngo 1.21\n", name)
	return []File{{Path: "go.mod", Data: []byte(mod), Mode: 0o644}}, nil
}

func rustFiles(name string) ([]File, error) {
	data, err := toml.Marshal(cargoManifest{
		Package:      cargoPackage{Name: name, Version: "0.1.0", Edition: "2021"},
		Dependencies: map[string]string{},
	})
	if err != nil {
		return nil, err
	}
	return []File{{Path: "Cargo.toml", Data: data, Mode: 0o644}}, nil
}
