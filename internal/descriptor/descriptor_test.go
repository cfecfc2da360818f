// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"errors"
	"strings"
	"testing"
)

func validDescriptor() *Descriptor {
	d := &Descriptor{
		Name:      "demo",
		BaseImage: "debian:bookworm",
		Packages:  []PackageName{"git", "curl=7.88.1-10+deb12u5"},
		Env:       []EnvVar{{Name: "JAVA_HOME", Value: "/opt/jdk"}, {Name: "PATH", Value: "$JAVA_HOME/bin:$PATH"}},
		Setup:     []ShellStep{"mkdir -p /opt/x && chmod 755 /opt/x"},
		Symlinks:  []Symlink{{Target: "/usr/bin/python3", Link: "/usr/bin/python"}},
		Toolchains: []Toolchain{
			{Name: "git", VersionCmd: []string{"git", "--version"}, MinVersion: ">= 2"},
		},
	}
	d.ApplyDefaults()
	return d
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	d := &Descriptor{Name: "x", Packages: []PackageName{"git"}}
	d.ApplyDefaults()

	if d.BaseImage != DefaultBaseImage || d.Port != 8080 || d.Auth != AuthPassword {
		t.Errorf("defaults = %q %d %q", d.BaseImage, d.Port, d.Auth)
	}
	want := "code-server --bind-addr 0.0.0.0:8080 --auth password /home/coder/workspace"
	if got := strings.Join(d.Command, " "); got != want {
		t.Errorf("Command = %q, want %q", got, want)
	}
}

func TestValidateAcceptsValid(t *testing.T) {
	t.Parallel()

	if err := validDescriptor().Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*Descriptor)
		field    string
		sentinel error
	}{
		{"empty packages", func(d *Descriptor) { d.Packages = nil }, "packages", ErrEmptyPackages},
		{"duplicate package", func(d *Descriptor) { d.Packages = []PackageName{"git", "curl", "git=1:2.39"} }, "packages[2]", ErrDuplicatePackage},
		{"bad package", func(d *Descriptor) { d.Packages = []PackageName{"Git"} }, "packages[0]", ErrInvalidPackage},
		{"bad version pin", func(d *Descriptor) { d.Packages = []PackageName{"git="} }, "packages[0]", ErrInvalidPackage},
		{"bad name", func(d *Descriptor) { d.Name = "my env" }, "name", ErrInvalidName},
		{"bad image", func(d *Descriptor) { d.BaseImage = "UPPER CASE" }, "base_image", ErrInvalidImageRef},
		{"port zero", func(d *Descriptor) { d.Port = 0 }, "port", ErrInvalidPort},
		{"auth mode", func(d *Descriptor) { d.Auth = "token" }, "auth", ErrInvalidAuthMode},
		{"duplicate env", func(d *Descriptor) { d.Env = append(d.Env, EnvVar{Name: "PATH", Value: "/bin"}) }, "env[2]", ErrInvalidEnvVar},
		{"env newline", func(d *Descriptor) { d.Env = []EnvVar{{Name: "A", Value: "x\ny"}} }, "env[0]", ErrInvalidEnvVar},
		{"bad shell", func(d *Descriptor) { d.Setup = []ShellStep{"if then fi ("} }, "setup[0]", ErrInvalidShellStep},
		{"relative symlink", func(d *Descriptor) { d.Symlinks = []Symlink{{Target: "python3", Link: "/usr/bin/python"}} }, "symlinks[0]", ErrInvalidSymlink},
		{"bad constraint", func(d *Descriptor) { d.Toolchains[0].MinVersion = "newest" }, "toolchains[0]", ErrInvalidToolchain},
		{"relative workdir", func(d *Descriptor) { d.WorkDir = "workspace" }, "workdir", ErrInvalidWorkDir},
		{"bad user", func(d *Descriptor) { d.User = "Root User" }, "user", ErrInvalidUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := validDescriptor()
			tt.mutate(d)
			err := d.Validate()
			if !errors.Is(err, ErrInvalidDescriptor) {
				t.Fatalf("Validate() = %v, want ErrInvalidDescriptor", err)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("Validate() = %v, want %v", err, tt.sentinel)
			}
			var ide *InvalidDescriptorError
			if !errors.As(err, &ide) {
				t.Fatal("error is not *InvalidDescriptorError")
			}
			found := false
			for _, f := range ide.Fields {
				if f.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no field error for %q in %v", tt.field, err)
			}
		})
	}
}

func TestDigestStableAndSensitive(t *testing.T) {
	t.Parallel()

	a, err := validDescriptor().Digest()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := validDescriptor().Digest()
	if a != b {
		t.Errorf("Digest() not stable: %s != %s", a, b)
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Digest().Validate() = %v", err)
	}

	reordered := validDescriptor()
	reordered.Packages[0], reordered.Packages[1] = reordered.Packages[1], reordered.Packages[0]
	c, _ := reordered.Digest()
	if c == a {
		t.Error("package order is part of the descriptor and must change the digest")
	}

	pinned, _ := validDescriptor().WithBaseImage(ImageRef("debian@sha256:" + strings.Repeat("a", 64))).Digest()
	if pinned == a {
		t.Error("base image pin must change the digest")
	}
}

func TestTag(t *testing.T) {
	t.Parallel()

	d := validDescriptor()
	d.Name = "My.App_1"
	tag, err := d.Tag()
	if err != nil {
		t.Fatal(err)
	}
	dg, _ := d.Digest()
	want := "codeden/my-app-1:" + dg.Encoded()[:12]
	if tag != want {
		t.Errorf("Tag() = %q, want %q", tag, want)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	d := validDescriptor()
	c := d.Clone()
	c.Packages[0] = "vim"
	c.Toolchains[0].VersionCmd[0] = "hg"
	c.Env[0].Value = "changed"
	if d.Packages[0] != "git" || d.Toolchains[0].VersionCmd[0] != "git" || d.Env[0].Value != "/opt/jdk" {
		t.Error("Clone() shares state with the original")
	}
}

func TestDedupePackages(t *testing.T) {
	t.Parallel()

	got := DedupePackages([]PackageName{"git", "curl", "git=1:2.39", "vim", "curl"})
	want := []PackageName{"git", "curl", "vim"}
	if len(got) != len(want) {
		t.Fatalf("DedupePackages() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DedupePackages()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNameRepository(t *testing.T) {
	t.Parallel()

	for in, want := range map[Name]string{"python": "python", "My.App": "my-app", "a__b--c": "a-b-c", "x-": "x"} {
		if got := in.Repository(); got != want {
			t.Errorf("Name(%q).Repository() = %q, want %q", in, got, want)
		}
	}
}
