package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/system"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
)

// RuntimeConfig locates the codec binaries and the scratch area
type RuntimeConfig struct {
	FFmpegPath  string
	FFprobePath string
	ScratchDir  string
}

// Runtime is a loaded codec runtime. It owns a private scratch directory and
// runs at most one encode at a time against it.
type Runtime struct {
	cfg    RuntimeConfig
	runner CommandRunner
	prober *MediaProber
	logger hclog.Logger

	mu      sync.RWMutex
	loaded  bool
	version string

	// encodeLock is a one-slot semaphore so waiting can honour a context
	encodeLock chan struct{}
}

// NewRuntime creates an unloaded runtime.
func NewRuntime(cfg RuntimeConfig, runner CommandRunner, logger hclog.Logger) *Runtime {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if runner == nil {
		runner = &DefaultCommandRunner{}
	}
	return &Runtime{
		cfg:        cfg,
		runner:     runner,
		prober:     NewMediaProber(logger, runner, cfg.FFprobePath),
		logger:     logger,
		encodeLock: make(chan struct{}, 1),
	}
}

// Load verifies the encoder binary and prepares the scratch directory.
// Calling Load on a loaded runtime re-verifies it.
func (r *Runtime) Load(ctx context.Context) error {
	out, err := r.runner.Output(ctx, r.cfg.FFmpegPath, "-version")
	if err != nil {
		return fmt.Errorf("probing %s: %w", r.cfg.FFmpegPath, err)
	}

	version := parseVersion(out)
	if version == "" {
		return fmt.Errorf("unrecognised output from %s -version", r.cfg.FFmpegPath)
	}

	if err := os.MkdirAll(r.cfg.ScratchDir, 0755); err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}

	r.mu.Lock()
	r.loaded = true
	r.version = version
	r.mu.Unlock()

	r.logger.Info("codec runtime loaded", "version", version, "scratch_dir", r.cfg.ScratchDir)
	if info, err := system.GetSystemInfo(ctx, r.cfg.ScratchDir); err == nil {
		r.logger.Info("host resources", info.LogFields()...)
	}
	return nil
}

// IsLoaded reports whether the runtime is usable. A runtime whose scratch
// directory disappeared is no longer loaded.
func (r *Runtime) IsLoaded() bool {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if !loaded {
		return false
	}

	info, err := os.Stat(r.cfg.ScratchDir)
	return err == nil && info.IsDir()
}

// Version returns the ffmpeg version string recorded at load.
func (r *Runtime) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Runner returns the command runner used for encoder invocations.
func (r *Runtime) Runner() CommandRunner {
	return r.runner
}

// Prober returns the media prober bound to this runtime.
func (r *Runtime) Prober() *MediaProber {
	return r.prober
}

// FFmpegPath returns the encoder binary path.
func (r *Runtime) FFmpegPath() string {
	return r.cfg.FFmpegPath
}

// Exclusive runs fn with sole use of an emptied scratch directory. Concurrent
// callers queue; a caller whose context ends while waiting gets ctx.Err().
func (r *Runtime) Exclusive(ctx context.Context, fn func(dir string) error) error {
	select {
	case r.encodeLock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.encodeLock }()

	if err := r.resetScratch(); err != nil {
		return tcerrors.IOError("reset_scratch", err)
	}
	defer func() {
		if err := r.resetScratch(); err != nil {
			r.logger.Warn("failed to clear scratch directory", "error", err)
		}
	}()

	return fn(r.cfg.ScratchDir)
}

func (r *Runtime) resetScratch() error {
	if err := os.RemoveAll(r.cfg.ScratchDir); err != nil {
		return err
	}
	return os.MkdirAll(r.cfg.ScratchDir, 0755)
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if !scanner.Scan() {
		return ""
	}
	fields := strings.Fields(scanner.Text())
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "version" {
			return fields[i+1]
		}
	}
	return ""
}

// RuntimeProvider hands out the process-wide codec runtime, creating and
// loading it on first use. Concurrent first callers share a single load, and
// a runtime that stopped being loaded is reloaded on the next Acquire.
type RuntimeProvider struct {
	cfg    RuntimeConfig
	runner CommandRunner
	logger hclog.Logger

	mu      sync.Mutex
	runtime *Runtime
	loads   int
}

// NewRuntimeProvider creates a provider; nothing is loaded until Acquire.
func NewRuntimeProvider(cfg RuntimeConfig, runner CommandRunner, logger hclog.Logger) *RuntimeProvider {
	return &RuntimeProvider{
		cfg:    cfg,
		runner: runner,
		logger: logger.Named("codec-runtime"),
	}
}

// Acquire returns a loaded runtime or a runtime_unavailable error.
func (p *RuntimeProvider) Acquire(ctx context.Context) (*Runtime, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runtime == nil {
		p.runtime = NewRuntime(p.cfg, p.runner, p.logger)
	}
	if p.runtime.IsLoaded() {
		return p.runtime, nil
	}

	p.loads++
	if err := p.runtime.Load(ctx); err != nil {
		return nil, tcerrors.RuntimeError("acquire_runtime", err)
	}
	return p.runtime, nil
}

// Current returns the runtime without loading it, or nil if never created.
func (p *RuntimeProvider) Current() *Runtime {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runtime
}

// Loads returns how many load attempts have been made.
func (p *RuntimeProvider) Loads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}
