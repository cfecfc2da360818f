// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"codeden-cli/internal/config"
	"codeden-cli/internal/container"
	"codeden-cli/internal/descriptor"
	"codeden-cli/internal/imagebuild"
	"codeden-cli/internal/issue"
	"codeden-cli/internal/registry"
	"codeden-cli/internal/session"
	"codeden-cli/internal/workspace"
	"codeden-cli/pkg/cueutil"
	"codeden-cli/pkg/types"
)

// ExitError carries the exit code of a failed command. By the time it
// reaches Execute the underlying error has already been shown to the user.
type ExitError struct {
	Code types.ExitCode
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// errUsage marks invalid command line input that cobra's own argument
// checks cannot express.
var errUsage = errors.New("invalid usage")

// classifyError maps a failure to its issue catalog page and exit code.
// An issue attached through issue.ErrorContext wins over the one derived
// from the error chain; the exit code always follows the chain.
func classifyError(err error) (issue.Id, types.ExitCode) {
	id, code := classifyChain(err)
	if attached, ok := issue.IssueOf(err); ok {
		id = attached
	}
	return id, code
}

func classifyChain(err error) (issue.Id, types.ExitCode) {
	switch {
	case errors.Is(err, session.ErrAuthConfig):
		return issue.AuthConfigMissingId, types.ExitAuthConfig
	case errors.Is(err, session.ErrPortInUse):
		return issue.PortInUseId, types.ExitPortInUse
	case errors.Is(err, session.ErrInvalidWorkDir):
		return issue.WorkDirNotFoundId, types.ExitInvalidInput
	case errors.Is(err, imagebuild.ErrPackageNotFound):
		return issue.PackageNotFoundId, types.ExitPackageNotFound
	case errors.Is(err, registry.ErrImageNotFound):
		return 0, types.ExitPackageNotFound
	case errors.Is(err, imagebuild.ErrNetwork):
		return issue.NetworkFailureId, types.ExitNetwork
	case errors.Is(err, container.ErrEngineNotAvailable):
		return issue.ContainerEngineNotFoundId, types.ExitEngineNotFound
	case errors.Is(err, imagebuild.ErrToolchain):
		return issue.ToolchainVerifyFailedId, types.ExitToolchainMissing
	case errors.Is(err, imagebuild.ErrNotIdempotent), errors.Is(err, imagebuild.ErrSampleFailed):
		return issue.ToolchainVerifyFailedId, types.ExitFailure
	case errors.Is(err, descriptor.ErrUnknownLanguage):
		return issue.UnknownLanguageId, types.ExitInvalidInput
	case errors.Is(err, workspace.ErrWorkspaceExists):
		return issue.WorkspaceExistsId, types.ExitFailure
	case errors.Is(err, config.ErrInvalidConfig):
		return issue.ConfigLoadFailedId, types.ExitInvalidInput
	case errors.Is(err, descriptor.ErrInvalidDescriptor),
		errors.Is(err, descriptor.ErrInvalidName),
		errors.Is(err, cueutil.ErrSchemaViolation):
		return issue.DescriptorInvalidId, types.ExitInvalidInput
	case errors.Is(err, workspace.ErrInvalidName),
		errors.Is(err, workspace.ErrInvalidPasswordEnv),
		errors.Is(err, session.ErrInvalidOptions),
		errors.Is(err, errUsage):
		return 0, types.ExitInvalidInput
	default:
		return 0, types.ExitFailure
	}
}

// fail renders err for the user and converts it into an ExitError carrying
// the classified exit code. Errors that already carry an exit code pass
// through untouched.
func (a *App) fail(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}

	id, code := classifyError(err)
	var styled string
	var ae *issue.ActionableError
	if errors.As(err, &ae) && (len(ae.Suggestions) > 0 || a.verbose) {
		styled = fmt.Sprintf("\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, a.verbose))
	}
	if renderErr := renderServiceError(a.stderr, newServiceError(err, id, styled), a.styleName()); renderErr != nil {
		a.logger("cli").Warn("failed to render issue page", "issue", id, "err", renderErr)
	}
	return &ExitError{Code: code, Err: err}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
