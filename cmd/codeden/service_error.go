// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"codeden-cli/internal/issue"
)

// ServiceError is an error that carries optional rendering information for
// the CLI layer. When the CLI layer receives a ServiceError, it renders the
// styled error message (if present) before formatting the underlying error.
// Always create via newServiceError to enforce the Err-must-be-non-nil invariant.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

func (e *ServiceError) Error() string { return e.Err.Error() }

func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError prints the issue help page, then the styled message.
// The catalog page comes first so the concrete error stays next to the
// prompt.
func renderServiceError(stderr io.Writer, svcErr *ServiceError, style string) error {
	if svcErr == nil {
		return nil
	}

	if svcErr.IssueID != 0 {
		if entry := issue.Get(svcErr.IssueID); entry != nil {
			rendered, err := entry.Render(style)
			if err != nil {
				return fmt.Errorf("render issue %d: %w", svcErr.IssueID, err)
			}
			fmt.Fprint(stderr, rendered)
		}
	}

	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}
	return nil
}
