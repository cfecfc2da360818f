// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"codeden-cli/internal/container"
	"codeden-cli/internal/descriptor"

	"github.com/charmbracelet/log"
	"golang.org/x/exp/slices"
)

const (
	// LabelSession marks containers started for a session with its id.
	LabelSession = "dev.codeden.session"

	// HealthPath is code-server's liveness endpoint.
	HealthPath = "/healthz"

	readinessPoll = 250 * time.Millisecond
)

// editorBackend runs the environment image detached and follows it.
type editorBackend struct {
	engine  container.Engine
	image   container.ImageTag
	desc    *descriptor.Descriptor
	name    string
	host    string
	port    int
	workdir string

	auth       descriptor.AuthMode
	credential string

	shutdownTimeout time.Duration
	logger          *log.Logger

	id container.ContainerID
}

func newEditorBackend(opts Options, name string) *editorBackend {
	return &editorBackend{
		engine:          opts.Engine,
		image:           opts.Image,
		desc:            opts.Descriptor,
		name:            name,
		host:            opts.Host,
		port:            opts.Port,
		workdir:         opts.WorkDir,
		auth:            opts.Auth,
		credential:      opts.Credential,
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          opts.Logger,
	}
}

func (b *editorBackend) runOptions() container.RunOptions {
	opts := container.RunOptions{
		Image:   b.image,
		Name:    b.name,
		WorkDir: b.desc.WorkDir,
		Ports: []container.PortMapping{{
			HostIP:        b.host,
			HostPort:      b.port,
			ContainerPort: int(b.desc.Port),
			Protocol:      container.PortProtocolTCP,
		}},
		Volumes: []container.VolumeMount{{
			Source:  b.workdir,
			Target:  b.desc.WorkDir,
			SELinux: container.SELinuxLabelShared,
		}},
		Labels: map[string]string{LabelSession: b.name},
	}
	if b.auth == descriptor.AuthPassword {
		opts.SecretEnv = map[string]string{"PASSWORD": b.credential}
	}
	if cmd, changed := withAuthFlag(b.desc.Command, b.auth); changed {
		opts.Command = cmd
	}
	return opts
}

// start releases the probe listener so the engine can publish the port,
// starts the container and waits until the editor answers HTTP.
func (b *editorBackend) start(ctx context.Context, ln net.Listener) (string, error) {
	if err := ln.Close(); err != nil {
		return "", fmt.Errorf("release probe listener: %w", err)
	}

	id, err := b.engine.Start(ctx, b.runOptions())
	if err != nil {
		if portAllocated(err) {
			return "", &PortInUseError{Host: b.host, Port: b.port, Err: err}
		}
		return "", fmt.Errorf("start editor container: %w", err)
	}
	b.id = id
	b.logger.Debug("editor container started", "id", id.Short(), "image", b.image)

	if err := waitReady(ctx, healthURL(b.host, b.port)); err != nil {
		b.discard()
		return "", fmt.Errorf("editor in %s not ready: %w", id.Short(), err)
	}
	return net.JoinHostPort(b.host, strconv.Itoa(b.port)), nil
}

func (b *editorBackend) wait(ctx context.Context) (int, error) {
	code, err := b.engine.Wait(ctx, b.id)
	b.discard()
	if err != nil {
		return -1, fmt.Errorf("wait for editor container: %w", err)
	}
	return code, nil
}

func (b *editorBackend) stop(ctx context.Context) error {
	if err := b.engine.Stop(ctx, b.id, b.shutdownTimeout); err != nil {
		return fmt.Errorf("stop editor container %s: %w", b.id.Short(), err)
	}
	return nil
}

// discard force-removes the container. It may already be gone.
func (b *editorBackend) discard() {
	ctx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout)
	defer cancel()
	if err := b.engine.Remove(ctx, b.id, true); err != nil {
		b.logger.Debug("remove editor container", "id", b.id.Short(), "error", err)
	}
}

// withAuthFlag rewrites the value of an "--auth" flag in cmd to mode.
func withAuthFlag(cmd []string, mode descriptor.AuthMode) ([]string, bool) {
	i := slices.Index(cmd, "--auth")
	if i < 0 || i+1 >= len(cmd) || cmd[i+1] == string(mode) {
		return cmd, false
	}
	out := slices.Clone(cmd)
	out[i+1] = string(mode)
	return out, true
}

// dialAddress maps wildcard bind addresses to loopback.
func dialAddress(host string, port int) string {
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::", "[::]":
		host = "::1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func healthURL(host string, port int) string {
	return "http://" + dialAddress(host, port) + HealthPath
}

// waitReady polls url until an HTTP response below 500 arrives or ctx
// ends. The engine's port proxy accepts TCP connections before the editor
// listens, so only an HTTP answer counts.
func waitReady(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 4 * readinessPoll}
	ticker := time.NewTicker(readinessPoll)
	defer ticker.Stop()

	var lastErr error
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode < http.StatusInternalServerError {
				return nil
			}
			err = fmt.Errorf("status %s", resp.Status)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("no answer from %s (last: %v): %w", url, lastErr, ctx.Err())
		case <-ticker.C:
		}
	}
}
