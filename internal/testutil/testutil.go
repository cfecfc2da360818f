// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"io"
	"net"
	"testing"
)

// Stopper is anything with a blocking Stop, such as a running session.
type Stopper interface {
	Stop() error
}

// MustClose fails the test when closing c fails.
func MustClose(t testing.TB, c io.Closer) {
	t.Helper()
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// MustStop stops s and only logs a failure, so it is safe in cleanups that
// run after the test already failed.
func MustStop(t testing.TB, s Stopper) {
	t.Helper()
	if err := s.Stop(); err != nil {
		t.Logf("stop: %v", err)
	}
}

// FreePort returns a loopback port that was free a moment ago. Another
// process may take it before the caller binds.
func FreePort(t testing.TB) int {
	t.Helper()
	ln := listenLoopback(t)
	MustClose(t, ln)
	return ln.Addr().(*net.TCPAddr).Port
}

// OccupiedPort returns a loopback port held open until the test ends.
func OccupiedPort(t testing.TB) int {
	t.Helper()
	ln := listenLoopback(t)
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

func listenLoopback(t testing.TB) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}
