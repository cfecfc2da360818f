// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	_ "embed"
	"fmt"
	"os"

	"codeden-cli/pkg/cueutil"
)

// FileExt is the extension of descriptor files.
const FileExt = ".cue"

//go:embed descriptor_schema.cue
var schema []byte

// Load reads and parses the descriptor at path.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes CUE source against #Descriptor, applies defaults and
// validates the result. filename is only used in error messages.
func Parse(data []byte, filename string) (*Descriptor, error) {
	d, err := cueutil.Decode[Descriptor](schema, data, "#Descriptor", cueutil.WithFilename(filename))
	if err != nil {
		return nil, err
	}
	d.ApplyDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// GenerateCUE renders d as descriptor source that Parse accepts.
func GenerateCUE(d *Descriptor) ([]byte, error) {
	body, err := cueutil.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("render descriptor %s: %w", d.Name, err)
	}
	header := fmt.Sprintf("// codeden environment %q\n", d.Name)
	return append([]byte(header), body...), nil
}
