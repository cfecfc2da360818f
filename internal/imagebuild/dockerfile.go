// SPDX-License-Identifier: MPL-2.0

package imagebuild

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"codeden-cli/internal/descriptor"
)

const (
	// LabelName and LabelDescriptor are set on every built image.
	LabelName       = "dev.codeden.name"
	LabelDescriptor = "dev.codeden.descriptor"

	dockerfileName = "Dockerfile"
)

// Dockerfile renders the build recipe for d on top of base. The output
// depends only on its inputs, byte for byte.
//
// ENV lines precede every RUN so install and setup steps see them
// (rustup reads CARGO_HOME, PATH additions apply to later steps).
func Dockerfile(d *descriptor.Descriptor, base descriptor.ImageRef) (string, error) {
	pinned := d.WithBaseImage(base)
	dg, err := pinned.Digest()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# codeden environment %s\n", d.Name)
	fmt.Fprintf(&sb, "FROM %s\n", base)
	fmt.Fprintf(&sb, "LABEL %s=%s %s=%s\n", LabelName, dockerQuote(string(d.Name)), LabelDescriptor, dockerQuote(dg.String()))
	sb.WriteString("USER root\n")
	sb.WriteString(`SHELL ["/bin/bash", "-o", "pipefail", "-c"]` + "\n")
	sb.WriteString("ARG DEBIAN_FRONTEND=noninteractive\n")

	if len(d.Env) > 0 {
		sb.WriteByte('\n')
		for _, e := range d.Env {
			fmt.Fprintf(&sb, "ENV %s=%s\n", e.Name, dockerQuote(e.Value))
		}
	}

	if len(d.PreInstall) > 0 {
		sb.WriteByte('\n')
		if err := writeSteps(&sb, d.PreInstall); err != nil {
			return "", err
		}
	}

	sb.WriteString("\nRUN apt-get update \\\n")
	sb.WriteString(" && apt-get install -y \\\n")
	for _, p := range d.Packages {
		fmt.Fprintf(&sb, "    %s \\\n", p)
	}
	sb.WriteString(" && rm -rf /var/lib/apt/lists/*\n")

	if len(d.Setup) > 0 {
		sb.WriteByte('\n')
		if err := writeSteps(&sb, d.Setup); err != nil {
			return "", err
		}
	}

	if len(d.Symlinks) > 0 {
		sb.WriteByte('\n')
		for _, l := range d.Symlinks {
			target, err := syntax.Quote(l.Target, syntax.LangPOSIX)
			if err != nil {
				return "", fmt.Errorf("symlink target %q: %w", l.Target, err)
			}
			link, err := syntax.Quote(l.Link, syntax.LangPOSIX)
			if err != nil {
				return "", fmt.Errorf("symlink %q: %w", l.Link, err)
			}
			fmt.Fprintf(&sb, "RUN ln -sf %s %s\n", target, link)
		}
	}

	cmd, err := execForm(d.Command)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "\nUSER %s\n", d.User)
	fmt.Fprintf(&sb, "WORKDIR %s\n", d.WorkDir)
	fmt.Fprintf(&sb, "EXPOSE %d\n", d.Port)
	fmt.Fprintf(&sb, "CMD %s\n", cmd)
	return sb.String(), nil
}

// writeSteps emits one RUN per step. Steps are reprinted on a single line,
// so multi-line scripts survive the Dockerfile's line-oriented syntax.
func writeSteps(sb *strings.Builder, steps []descriptor.ShellStep) error {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	printer := syntax.NewPrinter(syntax.SingleLine(true))
	for _, s := range steps {
		file, err := parser.Parse(strings.NewReader(string(s)), "")
		if err != nil {
			return fmt.Errorf("%w: %w", descriptor.ErrInvalidShellStep, err)
		}
		var line bytes.Buffer
		if err := printer.Print(&line, file); err != nil {
			return fmt.Errorf("print shell step: %w", err)
		}
		fmt.Fprintf(sb, "RUN %s\n", strings.TrimSpace(line.String()))
	}
	return nil
}

// dockerQuote double-quotes s for ENV and LABEL values. "$" stays live so
// values can reference earlier variables.
func dockerQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// execForm renders args as a Dockerfile JSON array.
func execForm(args []string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return "", fmt.Errorf("encode command: %w", err)
	}
	return strings.Replace(strings.TrimSpace(buf.String()), `","`, `", "`, -1), nil
}
