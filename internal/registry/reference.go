// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"codeden-cli/internal/descriptor"
)

const (
	dockerHub        = "docker.io"
	dockerHubLibrary = dockerHub + "/library/"
	// go-containerregistry spells Docker Hub as its API host.
	dockerHubAPI = "index.docker.io"
)

// Normalize expands short references to fully qualified ones:
// "ubuntu" becomes "docker.io/library/ubuntu" and "codercom/code-server"
// becomes "docker.io/codercom/code-server". References whose first path
// component looks like a host (contains "." or ":", or is "localhost") are
// returned unchanged.
func Normalize(ref descriptor.ImageRef) string {
	s := strings.TrimSpace(string(ref))
	first, _, found := strings.Cut(s, "/")
	switch {
	case !found:
		return dockerHubLibrary + s
	case first == "localhost" || strings.ContainsAny(first, ".:"):
		return s
	default:
		return dockerHub + "/" + s
	}
}

// parse normalizes and parses ref. opts are passed to name.ParseReference.
func parse(ref descriptor.ImageRef, opts ...name.Option) (name.Reference, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", descriptor.ErrInvalidImageRef)
	}
	parsed, err := name.ParseReference(Normalize(ref), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", descriptor.ErrInvalidImageRef, err)
	}
	return parsed, nil
}

// repository renders the repository of ref with Docker Hub spelled
// "docker.io".
func repository(ref name.Reference) string {
	repo := ref.Context().Name()
	if rest, ok := strings.CutPrefix(repo, dockerHubAPI+"/"); ok {
		return dockerHub + "/" + rest
	}
	return repo
}
