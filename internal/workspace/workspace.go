// SPDX-License-Identifier: MPL-2.0

package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"codeden-cli/internal/descriptor"
	"codeden-cli/internal/imagebuild"
	"codeden-cli/internal/sample"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultPasswordEnv is the variable the editor reads its password from.
const DefaultPasswordEnv = "PASSWORD"

var (
	// ErrWorkspaceExists is wrapped by WorkspaceExistsError.
	ErrWorkspaceExists = errors.New("workspace already exists")
	// ErrInvalidName is returned for names outside [A-Za-z0-9._-].
	ErrInvalidName = errors.New("invalid workspace name")
	// ErrInvalidPasswordEnv is returned when PasswordEnv is not a variable name.
	ErrInvalidPasswordEnv = errors.New("invalid password variable name")

	envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

type (
	// Options tunes Scaffold.
	Options struct {
		// Descriptor replaces the language preset. Its Name is overwritten.
		Descriptor *descriptor.Descriptor
		// HostPort defaults to the language's conventional port.
		HostPort int
		// PasswordEnv names the variable holding the editor password.
		PasswordEnv string
		// Overwrite replaces an existing workspace of the same name.
		Overwrite bool
		Logger    *log.Logger
	}

	// Layout lists what Scaffold wrote, as paths under the root.
	Layout struct {
		Root       string
		Dir        string
		Descriptor string
		Dockerfile string
		Compose    string
		Script     string
		Readme     string
		// Files are the sample program files inside Dir.
		Files []string
	}

	// WorkspaceExistsError reports a scaffold that would overwrite Path.
	WorkspaceExistsError struct {
		Name string
		Path string
	}

	composeFile struct {
		Services map[string]composeService `yaml:"services"`
	}

	composeService struct {
		Build         composeBuild `yaml:"build"`
		Image         string       `yaml:"image"`
		ContainerName string       `yaml:"container_name"`
		Ports         []string     `yaml:"ports"`
		Environment   []string     `yaml:"environment"`
		Volumes       []string     `yaml:"volumes"`
		Restart       string       `yaml:"restart"`
	}

	composeBuild struct {
		Context    string `yaml:"context"`
		Dockerfile string `yaml:"dockerfile"`
	}
)

func (e *WorkspaceExistsError) Error() string {
	return fmt.Sprintf("workspace %q already exists at %s (use --force to overwrite)", e.Name, e.Path)
}

func (e *WorkspaceExistsError) Unwrap() error { return ErrWorkspaceExists }

// ValidateName checks a workspace name.
func ValidateName(name string) error {
	if err := descriptor.Name(name).Validate(); err != nil {
		return fmt.Errorf("%w: %q (letters, digits, '.', '_' and '-' only)", ErrInvalidName, name)
	}
	return nil
}

// LayoutFor returns the paths Scaffold uses for name under root.
func LayoutFor(root, name string) Layout {
	return Layout{
		Root:       root,
		Dir:        filepath.Join(root, "workspace-"+name),
		Descriptor: filepath.Join(root, "codeden."+name+".cue"),
		Dockerfile: filepath.Join(root, "Dockerfile."+name),
		Compose:    filepath.Join(root, "docker-compose."+name+".yml"),
		Script:     filepath.Join(root, "start-"+name+".sh"),
		Readme:     filepath.Join(root, "workspace-"+name, "README.md"),
	}
}

// Scaffold creates the workspace for name in root. An existing workspace
// directory or generated file is an error unless opts.Overwrite is set, in
// which case the workspace directory is recreated from scratch.
func Scaffold(root, name string, lang descriptor.Language, opts Options) (Layout, error) {
	if err := ValidateName(name); err != nil {
		return Layout{}, err
	}
	if opts.PasswordEnv == "" {
		opts.PasswordEnv = DefaultPasswordEnv
	}
	if !envNamePattern.MatchString(opts.PasswordEnv) {
		return Layout{}, fmt.Errorf("%w: %q", ErrInvalidPasswordEnv, opts.PasswordEnv)
	}
	if opts.HostPort == 0 {
		opts.HostPort = lang.HostPort()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "workspace"})
	}

	d, err := descriptorFor(lang, name, opts.Descriptor)
	if err != nil {
		return Layout{}, err
	}
	program, err := sample.For(lang, d.Name)
	if err != nil {
		return Layout{}, err
	}

	layout := LayoutFor(root, name)
	if err := prepare(layout, name, opts.Overwrite); err != nil {
		return Layout{}, err
	}

	for _, f := range program.Files {
		path := filepath.Join(layout.Dir, filepath.FromSlash(f.Path))
		if err := writeFile(path, f.Data, f.Mode); err != nil {
			return Layout{}, err
		}
		layout.Files = append(layout.Files, path)
	}
	if err := writeFile(layout.Readme, Readme(name, program, opts.HostPort, opts.PasswordEnv), 0o644); err != nil {
		return Layout{}, err
	}

	cue, err := descriptor.GenerateCUE(d)
	if err != nil {
		return Layout{}, err
	}
	dockerfile, err := imagebuild.Dockerfile(d, d.BaseImage)
	if err != nil {
		return Layout{}, err
	}
	compose, err := Compose(name, d, opts.HostPort, opts.PasswordEnv)
	if err != nil {
		return Layout{}, err
	}
	script, err := StartScript(name, lang, opts.HostPort, opts.PasswordEnv)
	if err != nil {
		return Layout{}, err
	}

	for _, f := range []struct {
		path string
		data []byte
		mode fs.FileMode
	}{
		{layout.Descriptor, cue, 0o644},
		{layout.Dockerfile, []byte(dockerfile), 0o644},
		{layout.Compose, compose, 0o644},
		{layout.Script, script, 0o755},
	} {
		if err := writeFile(f.path, f.data, f.mode); err != nil {
			return Layout{}, err
		}
	}

	opts.Logger.Info("workspace created", "name", name, "language", lang, "dir", layout.Dir, "port", opts.HostPort)
	return layout, nil
}

func descriptorFor(lang descriptor.Language, name string, override *descriptor.Descriptor) (*descriptor.Descriptor, error) {
	if override == nil {
		return descriptor.Preset(lang, descriptor.Name(name))
	}
	d := override.Clone()
	d.Name = descriptor.Name(name)
	d.ApplyDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func prepare(layout Layout, name string, overwrite bool) error {
	if !overwrite {
		for _, p := range []string{layout.Dir, layout.Descriptor, layout.Dockerfile, layout.Compose, layout.Script} {
			if _, err := os.Lstat(p); err == nil {
				return &WorkspaceExistsError{Name: name, Path: p}
			} else if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("check %s: %w", p, err)
			}
		}
	} else if err := os.RemoveAll(layout.Dir); err != nil {
		return fmt.Errorf("remove existing workspace: %w", err)
	}
	if err := os.MkdirAll(layout.Dir, 0o755); err != nil {
		return fmt.Errorf("create workspace directory: %w", err)
	}
	return nil
}

func writeFile(path string, data []byte, mode fs.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	// WriteFile keeps the mode of a file it overwrites.
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

// Compose renders a docker-compose file that builds Dockerfile.<name> and
// runs the editor with the workspace mounted. The password is taken from
// passwordEnv at compose time and never written to the file.
func Compose(name string, d *descriptor.Descriptor, hostPort int, passwordEnv string) ([]byte, error) {
	svc := composeService{
		Build:         composeBuild{Context: ".", Dockerfile: "Dockerfile." + name},
		Image:         descriptor.TagRepositoryPrefix + d.Name.Repository() + ":latest",
		ContainerName: name + "-code-editor",
		Ports:         []string{strconv.Itoa(hostPort) + ":" + strconv.Itoa(int(d.Port))},
		Volumes:       []string{"./workspace-" + name + ":" + d.WorkDir},
		Restart:       "unless-stopped",
	}
	if d.Auth == descriptor.AuthPassword {
		svc.Environment = []string{"PASSWORD=${" + passwordEnv + ":?set " + passwordEnv + " to the editor password}"}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(composeFile{Services: map[string]composeService{name + "-editor": svc}}); err != nil {
		return nil, fmt.Errorf("render compose file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render compose file: %w", err)
	}
	return buf.Bytes(), nil
}

// devHints are the extra toolchain commands listed in a workspace README,
// run from the workspace directory inside the editor terminal.
var devHints = map[descriptor.Language][]string{
	descriptor.LangPython: {"pip install -r requirements.txt"},
	descriptor.LangNodeJS: {"npm install", "npm run dev"},
	descriptor.LangJava:   {"mvn compile"},
	descriptor.LangGo:     {"go build -o app . && ./app"},
	descriptor.LangRust:   {"cargo test"},
}

// Readme renders the README.md placed inside the workspace directory. It
// names the start script, the editor address and the sample command.
func Readme(name string, program sample.Program, hostPort int, passwordEnv string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", name)
	fmt.Fprintf(&b, "A %s development workspace created by codeden.\n\n", program.Language)
	b.WriteString("## Getting started\n\n")
	fmt.Fprintf(&b, "Start the editor from the directory above this one:\n\n```sh\nexport %s=...\n./start-%s.sh\n```\n\n", passwordEnv, name)
	fmt.Fprintf(&b, "Then open http://localhost:%d and run the sample:\n\n```sh\n%s\n```\n", hostPort, strings.Join(program.Command, " "))
	if hints := devHints[program.Language]; len(hints) > 0 {
		fmt.Fprintf(&b, "\n## Development\n\n```sh\n%s\n```\n", strings.Join(hints, "\n"))
	}
	if len(program.Files) > 0 {
		b.WriteString("\n## Files\n\n")
		for _, f := range program.Files {
			fmt.Fprintf(&b, "- `%s`\n", f.Path)
		}
	}
	return []byte(b.String())
}

// StartScript renders a POSIX shell script that builds and launches the
// workspace with codeden from the directory it lives in.
func StartScript(name string, lang descriptor.Language, hostPort int, passwordEnv string) ([]byte, error) {
	args := []string{
		"codeden", "up", "codeden." + name + ".cue",
		"--workdir", "workspace-" + name,
		"--port", strconv.Itoa(hostPort),
	}
	if passwordEnv != DefaultPasswordEnv {
		args = append(args, "--password-env", passwordEnv)
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		q, err := syntax.Quote(a, syntax.LangPOSIX)
		if err != nil {
			return nil, fmt.Errorf("quote %q: %w", a, err)
		}
		quoted[i] = q
	}

	var src strings.Builder
	fmt.Fprintf(&src, "#!/bin/sh\n# Start the %s (%s) development environment on port %d.\n", name, lang, hostPort)
	src.WriteString("set -eu\n")
	src.WriteString(`cd "$(dirname "$0")"` + "\n")
	fmt.Fprintf(&src, ": \"${%s:?set %s to the editor password}\"\n", passwordEnv, passwordEnv)
	fmt.Fprintf(&src, "echo \"Starting %s on http://localhost:%d\"\n", name, hostPort)
	src.WriteString("exec " + strings.Join(quoted, " ") + "\n")

	file, err := syntax.NewParser(syntax.KeepComments(true), syntax.Variant(syntax.LangPOSIX)).
		Parse(strings.NewReader(src.String()), "start-"+name+".sh")
	if err != nil {
		return nil, fmt.Errorf("start script: %w", err)
	}
	var out bytes.Buffer
	if err := syntax.NewPrinter(syntax.Indent(2)).Print(&out, file); err != nil {
		return nil, fmt.Errorf("start script: %w", err)
	}
	return out.Bytes(), nil
}
