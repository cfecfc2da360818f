// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os/exec"
)

// DockerEngine implements Engine with the docker CLI.
type DockerEngine struct {
	*BaseCLIEngine
}

func NewDockerEngine(opts ...BaseCLIEngineOption) *DockerEngine {
	path, _ := exec.LookPath("docker")
	return &DockerEngine{BaseCLIEngine: NewBaseCLIEngine(string(EngineTypeDocker), path, opts...)}
}

func (e *DockerEngine) Name() string { return string(EngineTypeDocker) }

// Available reports whether the CLI exists and the daemon answers.
func (e *DockerEngine) Available() bool {
	if e.BinaryPath() == "" {
		return false
	}
	return e.CreateCommand(context.Background(), "version", "--format", "{{.Server.Version}}").Run() == nil
}

func (e *DockerEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommandOutput(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get docker version: %w", err)
	}
	return out, nil
}

// ImageExists reports whether tag is present locally. Docker has no
// "image exists", so a failing inspect means absent.
func (e *DockerEngine) ImageExists(ctx context.Context, tag ImageTag) (bool, error) {
	if err := e.notAvailable(); err != nil {
		return false, err
	}
	return e.RunCommandStatus(ctx, "image", "inspect", string(tag)) == nil, nil
}
