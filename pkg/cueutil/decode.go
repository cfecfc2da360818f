// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/format"
)

// Decode compiles schema, unifies the definition at path with data,
// validates the result and decodes it into a new T.
func Decode[T any](schema, data []byte, path string, opts ...Option) (*T, error) {
	o := newOptions(opts)
	if err := CheckSize(data, o.maxSize, o.filename); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()
	def, err := lookupDefinition(ctx, schema, path)
	if err != nil {
		return nil, err
	}

	doc := ctx.CompileBytes(data, cue.Filename(o.filename))
	if doc.Err() != nil {
		return nil, FormatError(doc.Err(), o.filename)
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(o.concrete)); err != nil {
		return nil, FormatError(err, o.filename)
	}

	var out T
	if err := unified.Decode(&out); err != nil {
		return nil, FormatError(err, o.filename)
	}
	return &out, nil
}

// Marshal renders v as formatted CUE source. Field order follows the
// struct declaration order of v.
func Marshal(v any) ([]byte, error) {
	val := cuecontext.New().Encode(v)
	if val.Err() != nil {
		return nil, fmt.Errorf("encode value: %w", val.Err())
	}
	src, err := format.Node(val.Syntax())
	if err != nil {
		return nil, fmt.Errorf("format CUE: %w", err)
	}
	return src, nil
}

func lookupDefinition(ctx *cue.Context, schema []byte, path string) (cue.Value, error) {
	compiled := ctx.CompileBytes(schema, cue.Filename("<schema>"))
	if compiled.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: compile schema: %w", compiled.Err())
	}
	def := compiled.LookupPath(cue.ParsePath(path))
	if !def.Exists() || def.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: schema definition %s not found", path)
	}
	return def, nil
}

// CheckSize rejects documents larger than limit before they are compiled.
func CheckSize(data []byte, limit int64, filename string) error {
	if int64(len(data)) > limit {
		return &DocumentTooLargeError{Filename: filename, Size: int64(len(data)), Limit: limit}
	}
	return nil
}
