// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-containerregistry/pkg/name"
	"mvdan.cc/sh/v3/syntax"
)

const (
	AuthPassword AuthMode = "password"
	AuthNone     AuthMode = "none"

	DefaultBaseImage ImageRef      = "codercom/code-server:latest"
	DefaultPort      ContainerPort = 8080
	DefaultUser                    = "coder"
	DefaultWorkDir                 = "/home/coder/workspace"
)

var (
	ErrInvalidName        = errors.New("invalid environment name")
	ErrInvalidImageRef    = errors.New("invalid image reference")
	ErrInvalidPackage     = errors.New("invalid package name")
	ErrDuplicatePackage   = errors.New("duplicate package")
	ErrEmptyPackages      = errors.New("package list is empty")
	ErrInvalidEnvVar      = errors.New("invalid environment variable")
	ErrInvalidPort        = errors.New("invalid container port")
	ErrInvalidAuthMode    = errors.New("invalid auth mode")
	ErrInvalidShellStep   = errors.New("invalid shell step")
	ErrInvalidSymlink     = errors.New("invalid symlink")
	ErrInvalidToolchain   = errors.New("invalid toolchain")
	ErrInvalidUser        = errors.New("invalid user")
	ErrInvalidWorkDir     = errors.New("invalid working directory")
	ErrInvalidDescriptor  = errors.New("invalid environment descriptor")
	ErrUnknownLanguage    = errors.New("unknown language")
	namePattern           = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	packagePattern        = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]+$`)
	packageVersionPattern = regexp.MustCompile(`^[A-Za-z0-9.+~:_-]+$`)
	envNamePattern        = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	userPattern           = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)
)

type (
	// Name identifies an environment in image tags and container names.
	Name string

	// ImageRef is an OCI image reference such as "debian:bookworm" or
	// "codercom/code-server@sha256:...".
	ImageRef string

	// PackageName is a Debian package, optionally pinned as "name=version".
	PackageName string

	// EnvVar is one ENV assignment. Values may reference earlier names.
	EnvVar struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}

	// ContainerPort is the port the server listens on inside the image.
	ContainerPort int

	// AuthMode selects how the session authenticates clients.
	AuthMode string

	// ShellStep is a POSIX shell snippet run as root during the build.
	ShellStep string

	// Symlink is created with "ln -sf Target Link".
	Symlink struct {
		Target string `json:"target"`
		Link   string `json:"link"`
	}

	// Toolchain is a program the image must provide, checked by running
	// VersionCmd after the build.
	Toolchain struct {
		Name       string   `json:"name"`
		VersionCmd []string `json:"version_cmd"`
		// MinVersion is a semver constraint such as ">= 17".
		MinVersion string `json:"min_version,omitempty"`
	}

	// FieldError ties a validation failure to the descriptor field it came from.
	FieldError struct {
		Field string
		Value string
		Err   error
	}

	// InvalidDescriptorError aggregates every FieldError of a descriptor.
	InvalidDescriptorError struct {
		Name   Name
		Fields []*FieldError
	}

	// UnknownLanguageError is returned for an unrecognized preset name.
	UnknownLanguageError struct {
		Value string
	}
)

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v: %q", e.Field, e.Err, e.Value)
}

func (e *FieldError) Unwrap() error { return e.Err }

func (e *InvalidDescriptorError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	label := "descriptor"
	if e.Name != "" {
		label = fmt.Sprintf("descriptor %q", e.Name)
	}
	return fmt.Sprintf("%s is invalid: %s", label, strings.Join(msgs, "; "))
}

// Unwrap exposes ErrInvalidDescriptor and the field errors.
func (e *InvalidDescriptorError) Unwrap() []error {
	errs := make([]error, 0, len(e.Fields)+1)
	errs = append(errs, ErrInvalidDescriptor)
	for _, f := range e.Fields {
		errs = append(errs, f)
	}
	return errs
}

func (e *UnknownLanguageError) Error() string {
	return fmt.Sprintf("unknown language %q (known: %s)", e.Value, strings.Join(languageNames(), ", "))
}

func (e *UnknownLanguageError) Unwrap() error { return ErrUnknownLanguage }

func (n Name) String() string { return string(n) }

// Repository returns the name as an image repository component: lower case
// with every run of separators collapsed to a single "-".
func (n Name) Repository() string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(string(n)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if sep && b.Len() > 0 {
				b.WriteByte('-')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	return b.String()
}

func (n Name) Validate() error {
	if !namePattern.MatchString(string(n)) {
		return ErrInvalidName
	}
	return nil
}

func (r ImageRef) String() string { return string(r) }

func (r ImageRef) Validate() error {
	if _, err := name.ParseReference(string(r)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImageRef, err)
	}
	return nil
}

// IsPinned reports whether the reference names a manifest digest.
func (r ImageRef) IsPinned() bool {
	return strings.Contains(string(r), "@sha256:")
}

// Split returns the package name and the pinned version, if any.
func (p PackageName) Split() (pkg, version string) {
	pkg, version, _ = strings.Cut(string(p), "=")
	return pkg, version
}

// Base returns the package name without a version pin.
func (p PackageName) Base() string {
	pkg, _ := p.Split()
	return pkg
}

func (p PackageName) Validate() error {
	pkg, version := p.Split()
	if !packagePattern.MatchString(pkg) {
		return ErrInvalidPackage
	}
	if strings.Contains(string(p), "=") && !packageVersionPattern.MatchString(version) {
		return fmt.Errorf("%w: bad version pin", ErrInvalidPackage)
	}
	return nil
}

func (e EnvVar) Validate() error {
	if !envNamePattern.MatchString(e.Name) {
		return fmt.Errorf("%w: name must match %s", ErrInvalidEnvVar, envNamePattern)
	}
	if strings.ContainsAny(e.Value, "\n\r") {
		return fmt.Errorf("%w: value must be a single line", ErrInvalidEnvVar)
	}
	return nil
}

func (p ContainerPort) Validate() error {
	if p < 1 || p > 65535 {
		return ErrInvalidPort
	}
	return nil
}

func (a AuthMode) Validate() error {
	switch a {
	case AuthPassword, AuthNone:
		return nil
	}
	return ErrInvalidAuthMode
}

// Validate parses the step as POSIX shell.
func (s ShellStep) Validate() error {
	if strings.TrimSpace(string(s)) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidShellStep)
	}
	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	if _, err := parser.Parse(strings.NewReader(string(s)), ""); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShellStep, err)
	}
	return nil
}

func (s Symlink) Validate() error {
	if !path.IsAbs(s.Target) || !path.IsAbs(s.Link) {
		return fmt.Errorf("%w: target and link must be absolute", ErrInvalidSymlink)
	}
	if path.Clean(s.Target) == path.Clean(s.Link) {
		return fmt.Errorf("%w: link points at itself", ErrInvalidSymlink)
	}
	return nil
}

func (t Toolchain) Validate() error {
	if !namePattern.MatchString(t.Name) {
		return fmt.Errorf("%w: bad name", ErrInvalidToolchain)
	}
	if len(t.VersionCmd) == 0 || strings.TrimSpace(t.VersionCmd[0]) == "" {
		return fmt.Errorf("%w: version_cmd is empty", ErrInvalidToolchain)
	}
	if t.MinVersion != "" {
		if _, err := semver.NewConstraint(t.MinVersion); err != nil {
			return fmt.Errorf("%w: min_version: %v", ErrInvalidToolchain, err)
		}
	}
	return nil
}
