// Package flowpad is the top-level entry point for the flowpad sandbox
// control plane.
//
// Use the Builder to compose a flowpad application:
//
//	app, err := flowpad.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := flowpad.NewBuilder().
//	    WithConfig(cfg).
//	    WithRuntime(myRuntime).
//	    Build()
package flowpad

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/flowpad-ai/flowpad/internal/config"
	"github.com/flowpad-ai/flowpad/internal/engine"
	"github.com/flowpad-ai/flowpad/internal/registry"
	"github.com/flowpad-ai/flowpad/internal/scratchpad"
	"github.com/flowpad-ai/flowpad/internal/server"
	"github.com/flowpad-ai/flowpad/pkg/sandbox"
	dockerRuntime "github.com/flowpad-ai/flowpad/pkg/sandbox/docker"
)

// Builder constructs a flowpad App.
type Builder struct {
	config   *config.Config
	runtime  sandbox.Runtime
	registry *registry.Store
	pad      *scratchpad.Dir
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.config = cfg
	return b
}

// WithRuntime sets the container runtime implementation.
func (b *Builder) WithRuntime(rt sandbox.Runtime) *Builder {
	b.runtime = rt
	return b
}

// WithRegistry sets the service registry.
func (b *Builder) WithRegistry(reg *registry.Store) *Builder {
	b.registry = reg
	return b
}

// WithScratchpad sets the scratchpad directory.
func (b *Builder) WithScratchpad(pad *scratchpad.Dir) *Builder {
	b.pad = pad
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if b.config == nil {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		b.config = cfg
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	if b.pad == nil {
		pad, err := scratchpad.New(b.config.ScratchpadDir)
		if err != nil {
			return nil, err
		}
		b.pad = pad
	}

	if b.registry == nil {
		reg, err := registry.New(b.config.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("initializing registry: %w", err)
		}
		b.registry = reg
	}

	if b.runtime == nil {
		rt, err := dockerRuntime.New(context.Background())
		if err != nil {
			return nil, err
		}
		b.runtime = rt
	}

	memBytes, err := b.config.SandboxMemoryBytes()
	if err != nil {
		return nil, err
	}

	eng := engine.New(engine.Config{
		Image:            b.config.SandboxImage,
		BuildContext:     b.config.BuildContext,
		ScratchpadDir:    b.pad.Path(),
		MountPath:        b.config.ScratchpadMountPath,
		MaxStartRetries:  b.config.MaxStartRetries,
		RetryInterval:    b.config.RetryInterval,
		StopStatusChecks: b.config.StopStatusChecks,
		MemoryBytes:      memBytes,
		CPUs:             b.config.SandboxCPUs,
		PidsLimit:        b.config.SandboxPidsLimit,
	}, b.runtime, b.registry)

	return &App{
		config:   b.config,
		engine:   eng,
		registry: b.registry,
		runtime:  b.runtime,
		handler:  server.New(b.config, eng, b.pad),
	}, nil
}

// App is a running flowpad application.
type App struct {
	config   *config.Config
	engine   *engine.Engine
	registry *registry.Store
	runtime  sandbox.Runtime
	handler  *server.Server
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// Start provisions the sandbox image and serves the HTTP API until ctx is
// done. A provisioning failure aborts startup: no execution can proceed
// without the image.
func (a *App) Start(ctx context.Context) error {
	if err := a.engine.EnsureImage(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("flowpad server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	if err := a.runtime.Close(); err != nil {
		log.Printf("Warning: closing runtime: %v", err)
	}
	return a.registry.Close()
}
