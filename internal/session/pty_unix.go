// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package session

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

func startPty(cmd *exec.Cmd, width, height int) (*os.File, error) {
	return pty.StartWithSize(cmd, winsize(width, height))
}

func resizePty(f *os.File, width, height int) {
	_ = pty.Setsize(f, winsize(width, height))
}

func winsize(width, height int) *pty.Winsize {
	return &pty.Winsize{Cols: uint16(width), Rows: uint16(height)}
}
