// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"testing"

	"codeden-cli/internal/descriptor"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input descriptor.ImageRef
		want  string
	}{
		{"ubuntu", "docker.io/library/ubuntu"},
		{"debian:bookworm", "docker.io/library/debian:bookworm"},
		{"codercom/code-server", "docker.io/codercom/code-server"},
		{"codercom/code-server:4.20.0", "docker.io/codercom/code-server:4.20.0"},
		{"docker.io/library/nginx:latest", "docker.io/library/nginx:latest"},
		{"ghcr.io/owner/repo:v1.0", "ghcr.io/owner/repo:v1.0"},
		{"localhost:5000/myimage:latest", "localhost:5000/myimage:latest"},
		{"localhost/myimage", "localhost/myimage"},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRepository(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input descriptor.ImageRef
		want  string
	}{
		{"ubuntu:22.04", "docker.io/library/ubuntu"},
		{"codercom/code-server", "docker.io/codercom/code-server"},
		{"ghcr.io/owner/repo:v1", "ghcr.io/owner/repo"},
	}

	for _, tt := range tests {
		ref, err := parse(tt.input)
		if err != nil {
			t.Fatalf("parse(%q) error = %v", tt.input, err)
		}
		if got := repository(ref); got != tt.want {
			t.Errorf("repository(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	for _, input := range []descriptor.ImageRef{"", "UPPER/Case", "bad ref"} {
		if _, err := parse(input); !errors.Is(err, descriptor.ErrInvalidImageRef) {
			t.Errorf("parse(%q) error = %v, want ErrInvalidImageRef", input, err)
		}
	}
}
