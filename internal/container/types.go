// SPDX-License-Identifier: MPL-2.0

package container

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

const (
	PortProtocolTCP PortProtocol = "tcp"
	PortProtocolUDP PortProtocol = "udp"

	// SELinuxLabelShared lets several containers share the mount.
	SELinuxLabelShared SELinuxLabel = "z"
	// SELinuxLabelPrivate restricts the mount to one container.
	SELinuxLabelPrivate SELinuxLabel = "Z"
	SELinuxLabelNone    SELinuxLabel = ""
)

var (
	ErrInvalidImageTag     = errors.New("invalid image tag")
	ErrInvalidContainerID  = errors.New("invalid container id")
	ErrInvalidPortMapping  = errors.New("invalid port mapping")
	ErrInvalidVolumeMount  = errors.New("invalid volume mount")
	ErrInvalidSELinuxLabel = errors.New("invalid SELinux label")
)

type (
	// ImageTag names a local image, e.g. "codeden/python:3f2a9c1b04de".
	ImageTag string

	// ContainerID is the id (or name) an engine assigned to a container.
	ContainerID string

	PortProtocol string

	SELinuxLabel string

	// PortMapping publishes ContainerPort on HostIP:HostPort.
	PortMapping struct {
		HostIP        string
		HostPort      int
		ContainerPort int
		Protocol      PortProtocol
	}

	// VolumeMount bind-mounts Source from the host at Target.
	VolumeMount struct {
		Source   string
		Target   string
		ReadOnly bool
		SELinux  SELinuxLabel
	}
)

func (t ImageTag) String() string { return string(t) }

func (t ImageTag) Validate() error {
	s := string(t)
	if strings.TrimSpace(s) == "" || strings.ContainsAny(s, " \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidImageTag, s)
	}
	return nil
}

func (id ContainerID) String() string { return string(id) }

// Short returns the first 12 characters, the form engines print.
func (id ContainerID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

func (id ContainerID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return ErrInvalidContainerID
	}
	return nil
}

func (l SELinuxLabel) Validate() error {
	switch l {
	case SELinuxLabelNone, SELinuxLabelShared, SELinuxLabelPrivate:
		return nil
	}
	return fmt.Errorf("%w: %q (valid: empty, z, Z)", ErrInvalidSELinuxLabel, string(l))
}

func (p PortMapping) Validate() error {
	var errs []error
	if p.HostPort < 1 || p.HostPort > 65535 {
		errs = append(errs, fmt.Errorf("host port %d out of range", p.HostPort))
	}
	if p.ContainerPort < 1 || p.ContainerPort > 65535 {
		errs = append(errs, fmt.Errorf("container port %d out of range", p.ContainerPort))
	}
	switch p.Protocol {
	case "", PortProtocolTCP, PortProtocolUDP:
	default:
		errs = append(errs, fmt.Errorf("protocol %q is not tcp or udp", p.Protocol))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPortMapping, errors.Join(errs...))
	}
	return nil
}

// String renders the -p argument: "[ip:]host:container/proto".
func (p PortMapping) String() string {
	proto := p.Protocol
	if proto == "" {
		proto = PortProtocolTCP
	}
	s := strconv.Itoa(p.HostPort) + ":" + strconv.Itoa(p.ContainerPort) + "/" + string(proto)
	if p.HostIP != "" {
		s = p.HostIP + ":" + s
	}
	return s
}

func (v VolumeMount) Validate() error {
	var errs []error
	if strings.TrimSpace(v.Source) == "" {
		errs = append(errs, errors.New("source is empty"))
	}
	if !path.IsAbs(v.Target) {
		errs = append(errs, fmt.Errorf("target %q is not absolute", v.Target))
	}
	if err := v.SELinux.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidVolumeMount, errors.Join(errs...))
	}
	return nil
}

// String renders the -v argument: "source:target[:opts]".
func (v VolumeMount) String() string {
	var opts []string
	if v.ReadOnly {
		opts = append(opts, "ro")
	}
	if v.SELinux != SELinuxLabelNone {
		opts = append(opts, string(v.SELinux))
	}
	s := v.Source + ":" + v.Target
	if len(opts) > 0 {
		s += ":" + strings.Join(opts, ",")
	}
	return s
}
