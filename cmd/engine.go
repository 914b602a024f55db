package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/rollcall/internal/camera"
	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/worker"
)

// provider is an embedding engine that owns a process.
type provider interface {
	worker.Provider
	Close() error
}

// newProvider starts the embedding engine. Tests swap it for a fake.
var newProvider = func(ctx context.Context, cfg config.ProviderConfig) (provider, error) {
	return worker.NewPythonWorker(ctx, 0, worker.Config{
		Command: cfg.Command,
		Args:    cfg.Args,
		Timeout: cfg.Timeout,
	})
}

// openSource opens the configured camera.
var openSource = func(ctx context.Context, cfg config.CameraConfig) (camera.Source, error) {
	return camera.Open(ctx, camera.Config{
		Device:      cfg.Device,
		Format:      cfg.Format,
		FPS:         cfg.FPS,
		ReadTimeout: cfg.ReadTimeout,
	})
}

// engine starts the provider on demand so nothing is spawned for a session that
// ends before the camera opens.
type engine struct {
	cfg config.ProviderConfig
	p   provider
}

func (e *engine) start(ctx context.Context) error {
	if e.p != nil {
		return nil
	}
	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	p, err := newProvider(ctx, e.cfg)
	if err != nil {
		return fmt.Errorf("failed to start AI engine: %w", err)
	}
	e.p = p
	return nil
}

func (e *engine) Detect(ctx context.Context, frame []byte) ([]types.Face, error) {
	if e.p == nil {
		return nil, errors.New("AI engine not started")
	}
	return e.p.Detect(ctx, frame)
}

func (e *engine) Close() error {
	if e.p == nil {
		return nil
	}
	return e.p.Close()
}

// childLogs returns the engine process for ShowError, if there is one.
func (e *engine) childLogs() *utils.SafeCommand {
	if w, ok := e.p.(*worker.PythonWorker); ok {
		return w.Cmd
	}
	return nil
}
