// SPDX-License-Identifier: MPL-2.0

package sample

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultA and DefaultB are the operands every sample program uses.
	DefaultA = 10
	DefaultB = 20
)

// ErrOutputMismatch is the sentinel behind OutputMismatchError.
var ErrOutputMismatch = errors.New("sample output mismatch")

// OutputMismatchError reports sample output lacking the expected line.
type OutputMismatchError struct {
	Want   string
	Output string
}

func (e *OutputMismatchError) Error() string {
	return fmt.Sprintf("sample output does not contain %q; got:\n%s", e.Want, e.Output)
}

func (e *OutputMismatchError) Unwrap() error { return ErrOutputMismatch }

func Sum(a, b int) int { return a + b }

// Report renders the line every sample program prints.
func Report(a, b int) string {
	return fmt.Sprintf("Sum of %d and %d is: %d", a, b, Sum(a, b))
}

// Expected is the report for the default operands.
func Expected() string { return Report(DefaultA, DefaultB) }

// Check verifies that output contains the expected report on a line of
// its own.
func Check(output string) error {
	want := Expected()
	for line := range strings.Lines(output) {
		if strings.TrimSpace(line) == want {
			return nil
		}
	}
	return &OutputMismatchError{Want: want, Output: output}
}
