// SPDX-License-Identifier: MPL-2.0

// Package cueutil decodes user-authored CUE documents against an embedded
// schema definition and renders schema violations with field paths.
//
//	//go:embed descriptor_schema.cue
//	var schema []byte
//
//	d, err := cueutil.Decode[Descriptor](schema, data, "#Descriptor",
//	    cueutil.WithFilename("codeden.cue"))
package cueutil
