// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	EngineTypePodman EngineType = "podman"
	EngineTypeDocker EngineType = "docker"
)

// ErrEngineNotAvailable is wrapped by EngineNotAvailableError.
var ErrEngineNotAvailable = errors.New("container engine not available")

type (
	// Engine is the set of container operations codeden needs.
	Engine interface {
		Name() string
		Available() bool
		Version(ctx context.Context) (string, error)

		// Build builds an image. A failed build returns *BuildError carrying
		// the tail of the combined build output.
		Build(ctx context.Context, opts BuildOptions) error
		// Run runs a container in the foreground. A non-zero exit of the
		// contained process is reported in RunResult.ExitCode, not as error.
		Run(ctx context.Context, opts RunOptions) (*RunResult, error)
		// Start runs a detached container and returns its id. A failed start
		// returns *CommandError with the engine's stderr.
		Start(ctx context.Context, opts RunOptions) (ContainerID, error)
		// Wait blocks until the container exits and returns its exit code.
		Wait(ctx context.Context, id ContainerID) (int, error)
		Stop(ctx context.Context, id ContainerID, timeout time.Duration) error
		Remove(ctx context.Context, id ContainerID, force bool) error

		ImageExists(ctx context.Context, tag ImageTag) (bool, error)
		// ImageID returns the engine's content id for tag ("sha256:...").
		ImageID(ctx context.Context, tag ImageTag) (string, error)
	}

	BuildOptions struct {
		ContextDir string
		// Dockerfile is relative to ContextDir; empty means "Dockerfile".
		Dockerfile string
		Tag        ImageTag
		BuildArgs  map[string]string
		Labels     map[string]string
		Platform   string
		NoCache    bool
		// Pull always re-fetches the base image.
		Pull bool
		// Output receives the combined build log as it is produced.
		Output io.Writer
	}

	RunOptions struct {
		Image ImageTag
		// Entrypoint overrides the image entrypoint when non-empty.
		Entrypoint string
		Command    []string
		WorkDir    string
		User       string
		Env        map[string]string
		// SecretEnv reaches the container through the engine process
		// environment. Only the names appear on the engine command line.
		SecretEnv map[string]string
		Volumes   []VolumeMount
		Ports     []PortMapping
		Labels    map[string]string
		Name      string
		// Remove deletes the container when it exits.
		Remove      bool
		Interactive bool
		TTY         bool
		Stdin       io.Reader
		Stdout      io.Writer
		Stderr      io.Writer
	}

	RunResult struct {
		ContainerID ContainerID
		ExitCode    int
	}

	// EngineType identifies a container engine CLI.
	EngineType string

	// EngineNotAvailableError is returned when no usable engine was found.
	EngineNotAvailableError struct {
		Engine string
		Reason string
	}
)

func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

func (e *EngineNotAvailableError) Unwrap() error { return ErrEngineNotAvailable }

// NewEngine returns the preferred engine, falling back to the other one
// when the preferred CLI is missing or its daemon is unreachable.
func NewEngine(preferred EngineType, opts ...BaseCLIEngineOption) (Engine, error) {
	podman := func() Engine { return NewPodmanEngine(opts...) }
	docker := func() Engine { return NewDockerEngine(opts...) }

	var order []func() Engine
	switch preferred {
	case EngineTypePodman:
		order = []func() Engine{podman, docker}
	case EngineTypeDocker:
		order = []func() Engine{docker, podman}
	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preferred)
	}

	for _, mk := range order {
		if e := mk(); e.Available() {
			return e, nil
		}
	}
	return nil, &EngineNotAvailableError{
		Engine: string(preferred),
		Reason: fmt.Sprintf("%s is not installed or not running, and the fallback engine is not available either", preferred),
	}
}

// AutoDetectEngine returns the first available engine, trying Podman first.
func AutoDetectEngine(opts ...BaseCLIEngineOption) (Engine, error) {
	e, err := NewEngine(EngineTypePodman, opts...)
	if err != nil {
		return nil, &EngineNotAvailableError{
			Engine: "any",
			Reason: "no container engine (podman or docker) is available on this system",
		}
	}
	return e, nil
}
