// Package sandbox defines the Runtime interface for flowpad sandbox execution.
package sandbox

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a container ID is unknown to the runtime.
var ErrNotFound = errors.New("container not found")

// Status is the coarse container state reported by the runtime.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusUnknown Status = "unknown"
)

// Mount binds a host directory into a container.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// RunSpec configures a sandbox container.
type RunSpec struct {
	Image  string
	Cmd    []string
	Name   string   // container name; empty lets the runtime pick one
	Env    []string // additional environment variables
	Mounts []Mount

	// Resource limits (zero means no limit).
	MemoryBytes int64
	CPUs        float64
	PidsLimit   int64
}

// Runtime manages sandbox images and containers.
type Runtime interface {
	// ImageExists reports whether the image is present locally.
	ImageExists(ctx context.Context, name string) (bool, error)

	// BuildImage builds an image from a local build context directory and
	// tags it. Builds may take substantial wall-clock time; no timeout is
	// imposed beyond the caller's context.
	BuildImage(ctx context.Context, contextDir, tag string) error

	// RunOneShot creates a container, runs spec.Cmd to completion, and
	// returns the combined stdout/stderr output. The container is removed
	// before RunOneShot returns, on success and failure paths alike.
	RunOneShot(ctx context.Context, spec RunSpec) (string, error)

	// StartDetached creates and starts a container without waiting for the
	// process. Returns the runtime-assigned container ID.
	StartDetached(ctx context.Context, spec RunSpec) (string, error)

	// Status re-fetches the current state of a container. Unknown IDs
	// return ErrNotFound.
	Status(ctx context.Context, containerID string) (Status, error)

	// Stop requests a graceful stop of a running container.
	Stop(ctx context.Context, containerID string) error

	// Remove deletes a container, forcibly if it is still running.
	Remove(ctx context.Context, containerID string) error

	// Close releases the runtime client.
	Close() error
}
