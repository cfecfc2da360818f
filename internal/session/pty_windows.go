// SPDX-License-Identifier: MPL-2.0

//go:build windows

package session

import (
	"errors"
	"os"
	"os/exec"
)

func startPty(*exec.Cmd, int, int) (*os.File, error) {
	return nil, errors.ErrUnsupported
}

func resizePty(*os.File, int, int) {}
