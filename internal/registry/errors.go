// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrImageNotFound is the sentinel behind ImageNotFoundError.
var ErrImageNotFound = errors.New("image not found")

// ImageNotFoundError reports that the registry has no manifest for a
// reference. Registries that hide private repositories answer 401 or 403
// instead of 404; StatusCode keeps the distinction.
type ImageNotFoundError struct {
	Reference  string
	StatusCode int
	Err        error
}

func (e *ImageNotFoundError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Sprintf("image %q not found or requires authentication", e.Reference)
	default:
		return fmt.Sprintf("image %q not found", e.Reference)
	}
}

func (e *ImageNotFoundError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrImageNotFound}
	}
	return []error{ErrImageNotFound, e.Err}
}
