// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// PodmanEngine implements Engine with the podman CLI. Bind mounts get the
// shared SELinux label when the host enforces SELinux.
type PodmanEngine struct {
	*BaseCLIEngine
}

// selinuxEnforcing is swapped in tests.
var selinuxEnforcing = func() bool {
	data, err := os.ReadFile("/sys/fs/selinux/enforce")
	return err == nil && strings.TrimSpace(string(data)) == "1"
}

func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	path, _ := exec.LookPath("podman")
	all := append([]BaseCLIEngineOption{WithVolumeFormatter(labelVolume)}, opts...)
	return &PodmanEngine{BaseCLIEngine: NewBaseCLIEngine(string(EngineTypePodman), path, all...)}
}

func (e *PodmanEngine) Name() string { return string(EngineTypePodman) }

func (e *PodmanEngine) Available() bool {
	if e.BinaryPath() == "" {
		return false
	}
	return e.CreateCommand(context.Background(), "version", "--format", "{{.Version}}").Run() == nil
}

func (e *PodmanEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommandOutput(ctx, "version", "--format", "{{.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get podman version: %w", err)
	}
	return out, nil
}

// ImageExists uses "podman image exists", which exits 1 for a missing image.
func (e *PodmanEngine) ImageExists(ctx context.Context, tag ImageTag) (bool, error) {
	err := e.RunCommandStatus(ctx, "image", "exists", string(tag))
	if err == nil {
		return true, nil
	}
	var ce *CommandError
	if errors.As(err, &ce) && ce.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

// labelVolume adds the shared SELinux label unless the mount already has one.
func labelVolume(v VolumeMount) string {
	if v.SELinux == SELinuxLabelNone && selinuxEnforcing() {
		v.SELinux = SELinuxLabelShared
	}
	return v.String()
}
