// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"codeden-cli/internal/container"
)

// mockEngine stands in for the editor container. Start serves the health
// endpoint on the published host port; the container runs until Stop or
// exit is called.
type mockEngine struct {
	mu sync.Mutex

	startErr error
	// silent skips the listener, so the container never becomes ready.
	silent bool
	// proxyOnly accepts and drops connections like an engine port proxy
	// whose editor is not listening yet.
	proxyOnly bool
	// healthStatus is the health endpoint's status; zero means 200.
	healthStatus int

	started   []container.RunOptions
	stopCalls int
	removed   []container.ContainerID

	ln     net.Listener
	exitCh chan int
	once   sync.Once
}

func newMockEngine() *mockEngine {
	return &mockEngine{exitCh: make(chan int, 1)}
}

func (m *mockEngine) Name() string    { return "mock" }
func (m *mockEngine) Available() bool { return true }

func (m *mockEngine) Version(context.Context) (string, error) { return "mock-1.0.0", nil }

func (m *mockEngine) Build(context.Context, container.BuildOptions) error { return nil }

func (m *mockEngine) Run(context.Context, container.RunOptions) (*container.RunResult, error) {
	return &container.RunResult{}, nil
}

func (m *mockEngine) Start(_ context.Context, opts container.RunOptions) (container.ContainerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = append(m.started, opts)
	if m.startErr != nil {
		return "", m.startErr
	}
	if !m.silent {
		p := opts.Ports[0]
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p.HostPort)))
		if err != nil {
			return "", err
		}
		m.ln = ln
		if m.proxyOnly {
			go func() {
				for {
					conn, err := ln.Accept()
					if err != nil {
						return
					}
					_ = conn.Close()
				}
			}()
		} else {
			status := m.healthStatus
			if status == 0 {
				status = http.StatusOK
			}
			mux := http.NewServeMux()
			mux.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
			})
			srv := &http.Server{Handler: mux, ReadHeaderTimeout: time.Second}
			go func() { _ = srv.Serve(ln) }()
		}
	}
	return "0123456789abcdef", nil
}

func (m *mockEngine) Wait(ctx context.Context, _ container.ContainerID) (int, error) {
	select {
	case code := <-m.exitCh:
		return code, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// exit ends the container with code, as if its process returned.
func (m *mockEngine) exit(code int) {
	m.once.Do(func() {
		m.mu.Lock()
		if m.ln != nil {
			_ = m.ln.Close()
		}
		m.mu.Unlock()
		m.exitCh <- code
	})
}

func (m *mockEngine) Stop(context.Context, container.ContainerID, time.Duration) error {
	m.mu.Lock()
	m.stopCalls++
	m.mu.Unlock()
	m.exit(143)
	return nil
}

func (m *mockEngine) Remove(_ context.Context, id container.ContainerID, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, id)
	return nil
}

func (m *mockEngine) ImageExists(context.Context, container.ImageTag) (bool, error) { return true, nil }

func (m *mockEngine) ImageID(context.Context, container.ImageTag) (string, error) {
	return "sha256:0000", nil
}


func (m *mockEngine) startCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.started)
}
