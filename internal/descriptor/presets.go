// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"strings"

	"golang.org/x/exp/slices"
)

const (
	LangPython Language = "python"
	LangNodeJS Language = "nodejs"
	LangJava   Language = "java"
	LangGo     Language = "go"
	LangRust   Language = "rust"
)

// Language names a built-in environment preset.
type Language string

type preset struct {
	hostPort int
	aliases  []string
	build    func(*Descriptor)
}

var (
	commonTools = []PackageName{"git", "curl", "wget", "vim", "nano", "htop", "tree"}

	pythonSymlink = Symlink{Target: "/usr/bin/python3", Link: "/usr/bin/python"}

	presets = map[Language]preset{
		LangPython: {
			hostPort: 8080,
			aliases:  []string{"py"},
			build: func(d *Descriptor) {
				d.Packages = withCommon("python3", "python3-pip", "python3-venv")
				d.Symlinks = []Symlink{pythonSymlink}
				d.Toolchains = []Toolchain{
					{Name: "python", VersionCmd: []string{"python3", "--version"}, MinVersion: ">= 3"},
					{Name: "pip", VersionCmd: []string{"pip3", "--version"}},
				}
			},
		},
		LangNodeJS: {
			hostPort: 8081,
			aliases:  []string{"node", "js", "javascript"},
			build: func(d *Descriptor) {
				d.PreInstall = []ShellStep{"curl -fsSL https://deb.nodesource.com/setup_18.x | bash -"}
				d.Packages = withCommon("nodejs", "python3", "python3-pip", "python3-venv", "build-essential")
				d.Setup = []ShellStep{"npm install -g yarn pnpm typescript ts-node nodemon"}
				d.Symlinks = []Symlink{pythonSymlink}
				d.Toolchains = []Toolchain{
					{Name: "node", VersionCmd: []string{"node", "--version"}, MinVersion: ">= 18"},
					{Name: "npm", VersionCmd: []string{"npm", "--version"}},
					{Name: "typescript", VersionCmd: []string{"tsc", "--version"}},
				}
			},
		},
		LangJava: {
			hostPort: 8082,
			aliases:  []string{"jdk"},
			build: func(d *Descriptor) {
				d.Packages = withCommon("openjdk-17-jdk", "maven", "gradle", "python3", "python3-pip", "build-essential")
				d.Env = []EnvVar{
					{Name: "JAVA_HOME", Value: "/usr/lib/jvm/java-17"},
					{Name: "PATH", Value: "$JAVA_HOME/bin:$PATH"},
				}
				// The JDK directory name carries the Debian architecture.
				d.Setup = []ShellStep{`ln -sfn "/usr/lib/jvm/java-17-openjdk-$(dpkg --print-architecture)" /usr/lib/jvm/java-17`}
				d.Symlinks = []Symlink{pythonSymlink}
				d.Toolchains = []Toolchain{
					{Name: "java", VersionCmd: []string{"java", "-version"}, MinVersion: ">= 17"},
					{Name: "javac", VersionCmd: []string{"javac", "-version"}, MinVersion: ">= 17"},
					{Name: "maven", VersionCmd: []string{"mvn", "-v"}},
					{Name: "gradle", VersionCmd: []string{"gradle", "--version"}},
				}
			},
		},
		LangGo: {
			hostPort: 8083,
			aliases:  []string{"golang"},
			build: func(d *Descriptor) {
				d.Packages = withCommon("golang-go", "python3", "python3-pip", "build-essential")
				d.Env = []EnvVar{
					{Name: "GOPATH", Value: "/home/coder/go"},
					{Name: "PATH", Value: "$GOPATH/bin:/usr/local/go/bin:$PATH"},
				}
				d.Setup = []ShellStep{"mkdir -p /home/coder/go/src /home/coder/go/bin /home/coder/go/pkg && chown -R coder:coder /home/coder/go"}
				d.Symlinks = []Symlink{pythonSymlink}
				d.Toolchains = []Toolchain{
					{Name: "go", VersionCmd: []string{"go", "version"}, MinVersion: ">= 1.19"},
				}
			},
		},
		LangRust: {
			hostPort: 8084,
			aliases:  []string{"rs", "cargo"},
			build: func(d *Descriptor) {
				d.Packages = withCommon("build-essential")
				d.Env = []EnvVar{
					{Name: "RUSTUP_HOME", Value: "/usr/local/rustup"},
					{Name: "CARGO_HOME", Value: "/usr/local/cargo"},
					{Name: "PATH", Value: "/usr/local/cargo/bin:$PATH"},
				}
				d.Setup = []ShellStep{
					"curl --proto '=https' --tlsv1.2 -sSf https://sh.rustup.rs | sh -s -- -y --no-modify-path --profile minimal",
					"chmod -R a+w /usr/local/rustup /usr/local/cargo",
				}
				d.Toolchains = []Toolchain{
					{Name: "rustc", VersionCmd: []string{"rustc", "--version"}},
					{Name: "cargo", VersionCmd: []string{"cargo", "--version"}},
				}
			},
		},
	}
)

func withCommon(first ...PackageName) []PackageName {
	return DedupePackages(append(slices.Clone(first), commonTools...))
}

// Languages returns the preset names in a stable order.
func Languages() []Language {
	out := make([]Language, 0, len(presets))
	for l := range presets {
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b Language) int {
		return presets[a].hostPort - presets[b].hostPort
	})
	return out
}

func languageNames() []string {
	langs := Languages()
	out := make([]string, len(langs))
	for i, l := range langs {
		out[i] = string(l)
	}
	return out
}

// ResolveLanguage maps a preset name or alias, case-insensitively.
func ResolveLanguage(s string) (Language, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if _, ok := presets[Language(key)]; ok {
		return Language(key), nil
	}
	for l, p := range presets {
		if slices.Contains(p.aliases, key) {
			return l, nil
		}
	}
	return "", &UnknownLanguageError{Value: s}
}

// Aliases returns the alternative names accepted for l.
func (l Language) Aliases() []string { return slices.Clone(presets[l].aliases) }

// HostPort is the conventional host port for sessions of this language, so
// several environments can run side by side.
func (l Language) HostPort() int { return presets[l].hostPort }

// Preset returns a fresh, defaulted descriptor for l named name (the
// language itself when name is empty).
func Preset(l Language, name Name) (*Descriptor, error) {
	p, ok := presets[l]
	if !ok {
		return nil, &UnknownLanguageError{Value: string(l)}
	}
	if name == "" {
		name = Name(l)
	}
	d := &Descriptor{Name: name, BaseImage: DefaultBaseImage}
	p.build(d)
	d.ApplyDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
