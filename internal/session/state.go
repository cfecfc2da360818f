// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	// StateStopped is terminal.
	StateStopped
	// StateFailed is terminal; Err reports the cause.
	StateFailed
)

type (
	// State is the lifecycle state of a Session.
	State int32

	// lifecycle holds the state machine shared by every backend. Reads are
	// lock-free; transitions use compare-and-swap so that a Stop racing a
	// server exit has exactly one winner.
	lifecycle struct {
		state atomic.Int32

		mu      sync.Mutex
		lastErr error

		done     chan struct{}
		doneOnce sync.Once
	}
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

func newLifecycle() lifecycle {
	return lifecycle{done: make(chan struct{})}
}

// State returns the current state.
func (l *lifecycle) State() State {
	return State(l.state.Load())
}

// Err returns the error that moved the session to StateFailed, or nil.
func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Done is closed when the session reaches a terminal state.
func (l *lifecycle) Done() <-chan struct{} {
	return l.done
}

func (l *lifecycle) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		l.fail(fmt.Errorf("context cancelled before start: %w", err))
		return l.Err()
	}
	if !l.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start session in state %s", l.State())
	}
	return nil
}

func (l *lifecycle) markRunning() bool {
	return l.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
}

func (l *lifecycle) fail(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
	l.state.Store(int32(StateFailed))
	l.closeDone()
}

// beginStop moves a starting or running session to StateStopping and
// reports whether the caller owns the shutdown. A session that never
// started goes straight to StateStopped.
func (l *lifecycle) beginStop() bool {
	for {
		cur := l.State()
		switch cur {
		case StateCreated:
			if l.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				l.closeDone()
				return false
			}
		case StateStarting, StateRunning:
			if l.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
				return true
			}
		default:
			return false
		}
	}
}

func (l *lifecycle) markStopped() {
	l.state.Store(int32(StateStopped))
	l.closeDone()
}

func (l *lifecycle) closeDone() {
	l.doneOnce.Do(func() { close(l.done) })
}
