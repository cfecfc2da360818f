// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gowebpki/jcs"
	"github.com/opencontainers/go-digest"
	"golang.org/x/exp/slices"
)

// TagRepositoryPrefix is prepended to the environment name in image tags.
const TagRepositoryPrefix = "codeden/"

// Descriptor is an Environment Descriptor. Once built it is treated as
// immutable: its Digest names the image.
type Descriptor struct {
	Name       Name          `json:"name"`
	BaseImage  ImageRef      `json:"base_image"`
	Packages   []PackageName `json:"packages"`
	Env        []EnvVar      `json:"env,omitempty"`
	Port       ContainerPort `json:"port"`
	Auth       AuthMode      `json:"auth"`
	User       string        `json:"user"`
	WorkDir    string        `json:"workdir"`
	PreInstall []ShellStep   `json:"pre_install,omitempty"`
	Setup      []ShellStep   `json:"setup,omitempty"`
	Symlinks   []Symlink     `json:"symlinks,omitempty"`
	Toolchains []Toolchain   `json:"toolchains,omitempty"`
	Command    []string      `json:"command,omitempty"`
}

// ApplyDefaults fills unset optional fields. The default command serves
// WorkDir with code-server on all interfaces at Port.
func (d *Descriptor) ApplyDefaults() {
	if d.BaseImage == "" {
		d.BaseImage = DefaultBaseImage
	}
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if d.Auth == "" {
		d.Auth = AuthPassword
	}
	if d.User == "" {
		d.User = DefaultUser
	}
	if d.WorkDir == "" {
		d.WorkDir = DefaultWorkDir
	}
	if len(d.Command) == 0 {
		d.Command = []string{
			"code-server",
			"--bind-addr", "0.0.0.0:" + strconv.Itoa(int(d.Port)),
			"--auth", string(d.Auth),
			d.WorkDir,
		}
	}
}

// Validate checks every field and reports all failures at once.
func (d *Descriptor) Validate() error {
	var fields []*FieldError
	check := func(field, value string, err error) {
		if err != nil {
			fields = append(fields, &FieldError{Field: field, Value: value, Err: err})
		}
	}

	check("name", string(d.Name), d.Name.Validate())
	check("base_image", string(d.BaseImage), d.BaseImage.Validate())
	check("port", strconv.Itoa(int(d.Port)), d.Port.Validate())
	check("auth", string(d.Auth), d.Auth.Validate())
	if !userPattern.MatchString(d.User) {
		check("user", d.User, ErrInvalidUser)
	}
	if len(d.WorkDir) == 0 || d.WorkDir[0] != '/' {
		check("workdir", d.WorkDir, ErrInvalidWorkDir)
	}

	if len(d.Packages) == 0 {
		check("packages", "", ErrEmptyPackages)
	}
	seenPkg := make(map[string]int, len(d.Packages))
	for i, p := range d.Packages {
		field := fmt.Sprintf("packages[%d]", i)
		if err := p.Validate(); err != nil {
			check(field, string(p), err)
			continue
		}
		if first, ok := seenPkg[p.Base()]; ok {
			check(field, string(p), fmt.Errorf("%w: same as packages[%d]", ErrDuplicatePackage, first))
			continue
		}
		seenPkg[p.Base()] = i
	}

	seenEnv := make(map[string]bool, len(d.Env))
	for i, e := range d.Env {
		field := fmt.Sprintf("env[%d]", i)
		if err := e.Validate(); err != nil {
			check(field, e.Name, err)
			continue
		}
		if seenEnv[e.Name] {
			check(field, e.Name, fmt.Errorf("%w: duplicate name", ErrInvalidEnvVar))
		}
		seenEnv[e.Name] = true
	}

	for i, s := range d.PreInstall {
		check(fmt.Sprintf("pre_install[%d]", i), "", s.Validate())
	}
	for i, s := range d.Setup {
		check(fmt.Sprintf("setup[%d]", i), "", s.Validate())
	}
	for i, s := range d.Symlinks {
		check(fmt.Sprintf("symlinks[%d]", i), s.Link, s.Validate())
	}

	seenTool := make(map[string]bool, len(d.Toolchains))
	for i, t := range d.Toolchains {
		field := fmt.Sprintf("toolchains[%d]", i)
		if err := t.Validate(); err != nil {
			check(field, t.Name, err)
			continue
		}
		if seenTool[t.Name] {
			check(field, t.Name, fmt.Errorf("%w: duplicate name", ErrInvalidToolchain))
		}
		seenTool[t.Name] = true
	}

	if len(fields) > 0 {
		return &InvalidDescriptorError{Name: d.Name, Fields: fields}
	}
	return nil
}

// Clone returns a deep copy.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Packages = slices.Clone(d.Packages)
	c.Env = slices.Clone(d.Env)
	c.PreInstall = slices.Clone(d.PreInstall)
	c.Setup = slices.Clone(d.Setup)
	c.Symlinks = slices.Clone(d.Symlinks)
	c.Command = slices.Clone(d.Command)
	c.Toolchains = make([]Toolchain, len(d.Toolchains))
	for i, t := range d.Toolchains {
		t.VersionCmd = slices.Clone(t.VersionCmd)
		c.Toolchains[i] = t
	}
	if d.Toolchains == nil {
		c.Toolchains = nil
	}
	return &c
}

// WithBaseImage returns a copy whose base image is replaced, typically by
// its digest-pinned form.
func (d *Descriptor) WithBaseImage(ref ImageRef) *Descriptor {
	c := d.Clone()
	c.BaseImage = ref
	return c
}

// Canonical returns the RFC 8785 canonical JSON encoding.
func (d *Descriptor) Canonical() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize descriptor: %w", err)
	}
	return out, nil
}

// Digest is the sha256 of the canonical encoding.
func (d *Descriptor) Digest() (digest.Digest, error) {
	b, err := d.Canonical()
	if err != nil {
		return "", err
	}
	return digest.FromBytes(b), nil
}

// Tag returns the content-addressed image tag "codeden/<name>:<hex12>".
func (d *Descriptor) Tag() (string, error) {
	dg, err := d.Digest()
	if err != nil {
		return "", err
	}
	return TagRepositoryPrefix + d.Name.Repository() + ":" + dg.Encoded()[:12], nil
}

// DedupePackages drops repeated package names, keeping the first occurrence.
func DedupePackages(pkgs []PackageName) []PackageName {
	seen := make(map[string]bool, len(pkgs))
	out := make([]PackageName, 0, len(pkgs))
	for _, p := range pkgs {
		if seen[p.Base()] {
			continue
		}
		seen[p.Base()] = true
		out = append(out, p)
	}
	return out
}

// Toolchain returns the named toolchain.
func (d *Descriptor) Toolchain(name string) (Toolchain, bool) {
	i := slices.IndexFunc(d.Toolchains, func(t Toolchain) bool { return t.Name == name })
	if i < 0 {
		return Toolchain{}, false
	}
	return d.Toolchains[i], true
}
