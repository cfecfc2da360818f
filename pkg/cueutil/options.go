// SPDX-License-Identifier: MPL-2.0

package cueutil

// DefaultMaxDocumentSize caps the documents Decode accepts.
const DefaultMaxDocumentSize int64 = 4 << 20

type (
	// Option configures Decode.
	Option func(*options)

	options struct {
		filename string
		maxSize  int64
		concrete bool
	}
)

func newOptions(opts []Option) options {
	o := options{filename: "<input>", maxSize: DefaultMaxDocumentSize, concrete: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithFilename sets the name reported in error messages.
func WithFilename(name string) Option {
	return func(o *options) {
		if name != "" {
			o.filename = name
		}
	}
}

// WithMaxSize overrides DefaultMaxDocumentSize.
func WithMaxSize(n int64) Option {
	return func(o *options) { o.maxSize = n }
}

// WithPartial accepts documents that leave schema fields without a
// concrete value. Defaults declared in the schema still apply.
func WithPartial() Option {
	return func(o *options) { o.concrete = false }
}
