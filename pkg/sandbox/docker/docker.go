// Package docker implements sandbox.Runtime using the Docker Engine API.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/flowpad-ai/flowpad/pkg/sandbox"
)

// Runtime implements sandbox.Runtime against a local Docker daemon.
type Runtime struct {
	cli *client.Client
}

// New creates a Docker runtime from the environment (DOCKER_HOST etc.) and
// verifies the daemon is reachable.
func New(ctx context.Context) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("initializing docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon unavailable: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// Close releases the underlying client.
func (r *Runtime) Close() error {
	return r.cli.Close()
}

// ImageExists reports whether the image is present locally.
func (r *Runtime) ImageExists(ctx context.Context, name string) (bool, error) {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspecting image %q: %w", name, err)
	}
	return true, nil
}

// BuildImage builds contextDir's Dockerfile and tags the result. The build
// stream is consumed to completion; build errors surface through it.
func (r *Runtime) BuildImage(ctx context.Context, contextDir, tag string) error {
	buildCtx, err := tarBuildContext(contextDir)
	if err != nil {
		return fmt.Errorf("packaging build context: %w", err)
	}
	defer buildCtx.Close()

	resp, err := r.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:   []string{tag},
		Remove: true,
	})
	if err != nil {
		return fmt.Errorf("building image %q: %w", tag, err)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("building image %q: %w", tag, err)
	}
	return nil
}

// RunOneShot runs spec.Cmd to completion in a fresh container and returns the
// combined output. The container is removed before returning, whatever the
// outcome.
func (r *Runtime) RunOneShot(ctx context.Context, spec sandbox.RunSpec) (string, error) {
	id, err := r.create(ctx, spec)
	if err != nil {
		return "", err
	}
	// Removal must happen even when ctx has been cancelled mid-run.
	defer func() {
		_ = r.cli.ContainerRemove(context.WithoutCancel(ctx), id, container.RemoveOptions{Force: true})
	}()

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting container: %w", err)
	}

	waitCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return "", fmt.Errorf("waiting for container: %w", err)
	case wait := <-waitCh:
		out, err := r.collectLogs(ctx, id)
		if err != nil {
			return "", err
		}
		if wait.StatusCode != 0 {
			return "", fmt.Errorf("command exited with status %d: %s", wait.StatusCode, strings.TrimSpace(out))
		}
		return out, nil
	}
}

// StartDetached creates and starts a container without waiting for the
// process. The runtime assigns the ID at creation, before the process is
// confirmed running.
func (r *Runtime) StartDetached(ctx context.Context, spec sandbox.RunSpec) (string, error) {
	id, err := r.create(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting container: %w", err)
	}
	return id, nil
}

// Status re-fetches a container's state.
func (r *Runtime) Status(ctx context.Context, containerID string) (sandbox.Status, error) {
	insp, err := r.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return sandbox.StatusUnknown, fmt.Errorf("container %s: %w", containerID, sandbox.ErrNotFound)
		}
		return sandbox.StatusUnknown, fmt.Errorf("inspecting container: %w", err)
	}
	if insp.State == nil {
		return sandbox.StatusUnknown, nil
	}
	switch insp.State.Status {
	case "created", "restarting":
		return sandbox.StatusPending, nil
	case "running":
		return sandbox.StatusRunning, nil
	case "exited", "dead":
		return sandbox.StatusExited, nil
	default:
		return sandbox.StatusUnknown, nil
	}
}

// Stop requests a graceful stop with the daemon's default timeout.
func (r *Runtime) Stop(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("container %s: %w", containerID, sandbox.ErrNotFound)
		}
		return fmt.Errorf("stopping container: %w", err)
	}
	return nil
}

// Remove deletes a container, forcibly if needed.
func (r *Runtime) Remove(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("container %s: %w", containerID, sandbox.ErrNotFound)
		}
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

func (r *Runtime) create(ctx context.Context, spec sandbox.RunSpec) (string, error) {
	cfg := &container.Config{
		Image: spec.Image,
		Cmd:   spec.Cmd,
		Env:   spec.Env,
	}
	resp, err := r.cli.ContainerCreate(ctx, cfg, hostConfig(spec), nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	return resp.ID, nil
}

func (r *Runtime) collectLogs(ctx context.Context, containerID string) (string, error) {
	rc, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("reading container logs: %w", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("demuxing container logs: %w", err)
	}
	return buf.String(), nil
}

func hostConfig(spec sandbox.RunSpec) *container.HostConfig {
	hc := &container.HostConfig{}
	for _, m := range spec.Mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		hc.Binds = append(hc.Binds, fmt.Sprintf("%s:%s:%s", m.HostPath, m.ContainerPath, mode))
	}
	if spec.MemoryBytes > 0 {
		hc.Memory = spec.MemoryBytes
	}
	if spec.CPUs > 0 {
		hc.NanoCPUs = int64(spec.CPUs * 1_000_000_000)
	}
	if spec.PidsLimit > 0 {
		p := spec.PidsLimit
		hc.Resources.PidsLimit = &p
	}
	return hc
}
