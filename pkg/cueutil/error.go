// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrSchemaViolation is wrapped by every SchemaError.
var ErrSchemaViolation = errors.New("document does not match schema")

type (
	// FieldError is one schema violation at a field path such as
	// "packages[2]" or "env[0].name".
	FieldError struct {
		Path    string
		Message string
	}

	// SchemaError collects the violations found in one document.
	SchemaError struct {
		Filename string
		Fields   []FieldError
	}

	// DocumentTooLargeError is returned when a document exceeds the size cap.
	DocumentTooLargeError struct {
		Filename string
		Size     int64
		Limit    int64
	}
)

func (f FieldError) String() string {
	if f.Path == "" {
		return f.Message
	}
	return f.Path + ": " + f.Message
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	switch len(e.Fields) {
	case 0:
		return e.Filename + ": " + ErrSchemaViolation.Error()
	case 1:
		return e.Filename + ": " + e.Fields[0].String()
	}
	lines := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		lines[i] = f.String()
	}
	return fmt.Sprintf("%s: %d schema violations:\n  %s", e.Filename, len(e.Fields), strings.Join(lines, "\n  "))
}

// Unwrap returns ErrSchemaViolation.
func (e *SchemaError) Unwrap() error { return ErrSchemaViolation }

// Error implements the error interface.
func (e *DocumentTooLargeError) Error() string {
	return fmt.Sprintf("%s: document is %d bytes, limit is %d", e.Filename, e.Size, e.Limit)
}

// FormatError converts a CUE evaluation error into a *SchemaError whose
// fields carry JSON-style paths. Non-CUE errors are wrapped with the filename.
func FormatError(err error, filename string) error {
	if err == nil {
		return nil
	}
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %w", filename, err)
	}

	out := &SchemaError{Filename: filename}
	seen := make(map[string]bool, len(list))
	for _, e := range list {
		path := joinPath(cueerrors.Path(e))
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		key := path + "\x00" + msg
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Fields = append(out.Fields, FieldError{Path: path, Message: msg})
	}
	return out
}

// joinPath renders ["env", "0", "name"] as "env[0].name".
func joinPath(parts []string) string {
	var b strings.Builder
	for i, p := range parts {
		switch {
		case i > 0 && isIndex(p):
			b.WriteString("[" + p + "]")
		case i > 0:
			b.WriteString("." + p)
		default:
			b.WriteString(p)
		}
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
