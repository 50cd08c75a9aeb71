// Package engine implements the sandbox lifecycle manager: image
// provisioning, one-shot command execution, and background-service
// start/poll/confirm/stop handling.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	shellquote "github.com/kballard/go-shellquote"

	"github.com/flowpad-ai/flowpad/internal/registry"
	"github.com/flowpad-ai/flowpad/pkg/sandbox"
)

// Config holds the engine's execution parameters.
type Config struct {
	// Image is the default sandbox image. Every execution targets it unless
	// the call carries an explicit override.
	Image string

	// BuildContext is the directory the image is built from when absent.
	BuildContext string

	// ScratchpadDir is the host directory mounted into every container.
	ScratchpadDir string

	// MountPath is the in-container scratchpad path. Always read-only.
	MountPath string

	// MaxStartRetries and RetryInterval bound the start-confirmation poll
	// loop. StopStatusChecks bounds the (historically single) stop check.
	MaxStartRetries  int
	RetryInterval    time.Duration
	StopStatusChecks int

	// Container resource limits (zero means unlimited).
	MemoryBytes int64
	CPUs        float64
	PidsLimit   int64
}

// Engine is the sandbox lifecycle manager.
//
// All operations are synchronous and block the caller, including the polling
// sleeps in StartService. The engine keeps no in-memory table of in-flight
// services; concurrent calls produce independent containers, and the registry
// rows are append-only audit records.
type Engine struct {
	cfg Config
	rt  sandbox.Runtime
	reg *registry.Store

	// Sleep is the wait primitive used between status polls. Replaceable in
	// tests so retry timing is deterministic without real delays.
	Sleep func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	imageReady bool
}

// New creates an Engine. Zero retry settings fall back to defaults matching
// the historical behavior (3 start retries, 2s interval, 1 stop check).
func New(cfg Config, rt sandbox.Runtime, reg *registry.Store) *Engine {
	if cfg.MaxStartRetries <= 0 {
		cfg.MaxStartRetries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	if cfg.StopStatusChecks <= 0 {
		cfg.StopStatusChecks = 1
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "/app/scratchpad"
	}
	return &Engine{
		cfg:   cfg,
		rt:    rt,
		reg:   reg,
		Sleep: sleepCtx,
	}
}

// Registry returns the service registry for read access.
func (e *Engine) Registry() *registry.Store { return e.reg }

// EnsureImage guarantees the default sandbox image exists locally, building
// it from the configured context if absent. It must succeed before any
// execution is attempted; a build failure is fatal and propagates to the
// caller. After the first success, repeated calls return immediately.
func (e *Engine) EnsureImage(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.imageReady {
		return nil
	}

	exists, err := e.rt.ImageExists(ctx, e.cfg.Image)
	if err != nil {
		return fmt.Errorf("checking sandbox image: %w", err)
	}
	if !exists {
		log.Printf("Sandbox image %q not found locally. Building from %s...", e.cfg.Image, e.cfg.BuildContext)
		if err := e.rt.BuildImage(ctx, e.cfg.BuildContext, e.cfg.Image); err != nil {
			return fmt.Errorf("building sandbox image %q: %w", e.cfg.Image, err)
		}
	}
	e.imageReady = true
	return nil
}

// RunCommand executes argv to completion in a fresh container and returns the
// captured output. The container is destroyed whatever the outcome; failures
// are absorbed into the Result, never raised. Paths inside argv are
// conventionally relative to the image's working directory — the engine does
// not validate them.
func (e *Engine) RunCommand(ctx context.Context, argv []string, imageOverride string) Result {
	if len(argv) == 0 {
		return Result{Op: OpRun, Kind: KindInvalidInput, Err: fmt.Errorf("command must not be empty")}
	}
	image := e.cfg.Image
	if imageOverride != "" {
		image = imageOverride
	}

	out, err := e.rt.RunOneShot(ctx, e.runSpec(image, argv, ""))
	if err != nil {
		return Result{Op: OpRun, Kind: KindExecutionFailure, Err: err}
	}
	return Result{Op: OpRun, Kind: KindOK, Output: out}
}

// StartService launches argv as a detached container and polls its status up
// to maxRetries times, sleeping interval between unsuccessful polls. It
// returns success as soon as the container reports running. If the budget is
// exhausted the container is forcibly stopped and removed — the hard cleanup
// guarantee of the failure path. Zero maxRetries/interval use the configured
// defaults.
func (e *Engine) StartService(ctx context.Context, argv []string, maxRetries int, interval time.Duration) Result {
	if len(argv) == 0 {
		return Result{Op: OpStart, Kind: KindInvalidInput, Err: fmt.Errorf("command must not be empty")}
	}
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxStartRetries
	}
	if interval <= 0 {
		interval = e.cfg.RetryInterval
	}

	name := "flowpad-svc-" + uuid.New().String()[:8]
	id, err := e.rt.StartDetached(ctx, e.runSpec(e.cfg.Image, argv, name))
	if err != nil {
		return Result{Op: OpStart, Kind: KindExecutionFailure, Err: err}
	}

	command := shellquote.Join(argv...)
	e.record(&registry.Service{
		ID:        id,
		Command:   command,
		Image:     e.cfg.Image,
		Status:    registry.StatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})
	e.event(id, "created", command)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		status, err := e.rt.Status(ctx, id)
		if err != nil {
			// Mirrors the original contract: a status-refresh failure is
			// reported as a start failure without cleanup.
			e.setStatus(id, registry.StatusFailed, attempt, err.Error())
			return Result{Op: OpStart, Kind: KindExecutionFailure, ContainerID: id, Err: err}
		}
		e.event(id, "poll", string(status))
		if status == sandbox.StatusRunning {
			e.setStatus(id, registry.StatusRunning, attempt, "")
			e.event(id, "running", "")
			return Result{Op: OpStart, Kind: KindOK, ContainerID: id, Retries: attempt}
		}
		if err := e.Sleep(ctx, interval); err != nil {
			e.setStatus(id, registry.StatusFailed, attempt, err.Error())
			return Result{Op: OpStart, Kind: KindExecutionFailure, ContainerID: id, Err: err}
		}
	}

	// Budget exhausted: stop and remove the container before reporting.
	if err := e.rt.Stop(ctx, id); err != nil {
		log.Printf("Warning: stopping unconfirmed service %s: %v", id, err)
	}
	if err := e.rt.Remove(ctx, id); err != nil {
		log.Printf("Warning: removing unconfirmed service %s: %v", id, err)
	}
	e.setStatus(id, registry.StatusFailed, maxRetries, fmt.Sprintf("not running after %d retries", maxRetries))
	e.event(id, "failed", fmt.Sprintf("not running after %d retries", maxRetries))
	return Result{Op: OpStart, Kind: KindStartupUnconfirmed, ContainerID: id, Retries: maxRetries}
}

// StopService stops a background service and removes its container if it
// reaches the exited state within the configured number of status checks
// (historically exactly one). If the container is not observed exited, its
// removal is NOT attempted and the resource may be left running — the caller
// must issue a fresh stop to reclaim it.
func (e *Engine) StopService(ctx context.Context, containerID string) Result {
	if _, err := e.rt.Status(ctx, containerID); err != nil {
		return Result{Op: OpStop, Kind: KindExecutionFailure, ContainerID: containerID, Err: err}
	}

	if err := e.rt.Stop(ctx, containerID); err != nil {
		return Result{Op: OpStop, Kind: KindExecutionFailure, ContainerID: containerID, Err: err}
	}
	e.event(containerID, "stopped", "")

	checks := e.cfg.StopStatusChecks
	for i := 0; i < checks; i++ {
		status, err := e.rt.Status(ctx, containerID)
		if err != nil {
			return Result{Op: OpStop, Kind: KindExecutionFailure, ContainerID: containerID, Err: err}
		}
		e.event(containerID, "poll", string(status))
		if status == sandbox.StatusExited {
			if err := e.rt.Remove(ctx, containerID); err != nil {
				return Result{Op: OpStop, Kind: KindExecutionFailure, ContainerID: containerID, Err: err}
			}
			e.setStatus(containerID, registry.StatusRemoved, 0, "")
			e.event(containerID, "removed", "")
			return Result{Op: OpStop, Kind: KindOK, ContainerID: containerID}
		}
		if i+1 < checks {
			if err := e.Sleep(ctx, e.cfg.RetryInterval); err != nil {
				return Result{Op: OpStop, Kind: KindExecutionFailure, ContainerID: containerID, Err: err}
			}
		}
	}
	return Result{Op: OpStop, Kind: KindStopIncomplete, ContainerID: containerID}
}

func (e *Engine) runSpec(image string, argv []string, name string) sandbox.RunSpec {
	return sandbox.RunSpec{
		Image: image,
		Cmd:   argv,
		Name:  name,
		Mounts: []sandbox.Mount{{
			HostPath:      e.cfg.ScratchpadDir,
			ContainerPath: e.cfg.MountPath,
			ReadOnly:      true,
		}},
		MemoryBytes: e.cfg.MemoryBytes,
		CPUs:        e.cfg.CPUs,
		PidsLimit:   e.cfg.PidsLimit,
	}
}

// record/setStatus/event never fail an operation; a broken registry only
// costs audit history.
func (e *Engine) record(svc *registry.Service) {
	if e.reg == nil {
		return
	}
	if err := e.reg.Create(svc); err != nil {
		log.Printf("Warning: recording service %s: %v", svc.ID, err)
	}
}

func (e *Engine) setStatus(id string, status registry.Status, retries int, errMsg string) {
	if e.reg == nil {
		return
	}
	if err := e.reg.SetStatus(id, status, retries, errMsg); err != nil {
		log.Printf("Warning: updating service %s: %v", id, err)
	}
}

func (e *Engine) event(id, typ, data string) {
	if e.reg == nil {
		return
	}
	if err := e.reg.AddEvent(&registry.Event{ServiceID: id, Type: typ, Data: data}); err != nil {
		log.Printf("Warning: recording event for %s: %v", id, err)
	}
}

// sleepCtx blocks for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
