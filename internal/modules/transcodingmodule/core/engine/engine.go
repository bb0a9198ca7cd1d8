// Package engine turns one source media blob into a single-rendition fMP4 HLS
// artifact bundle using the process-wide codec runtime.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/abr"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/ffmpeg"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/manifest"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/types"
)

// MasterName is the file name of the composed master playlist.
const MasterName = "master.m3u8"

// maxPreCompletion caps progress reported before artifacts are collected.
const maxPreCompletion = 0.99

// ProgressFunc receives the encoded fraction in [0, 1].
type ProgressFunc func(ratio float64)

// RuntimeSource hands out a loaded codec runtime.
type RuntimeSource interface {
	Acquire(ctx context.Context) (*ffmpeg.Runtime, error)
}

// Engine runs the fixed 720p HLS encode.
type Engine struct {
	runtimes RuntimeSource
	rung     abr.Rung
	logger   hclog.Logger
}

// NewEngine creates an engine that encodes with the default rendition policy.
func NewEngine(runtimes RuntimeSource, logger hclog.Logger) *Engine {
	return &Engine{
		runtimes: runtimes,
		rung:     abr.Default(),
		logger:   logger.Named("engine"),
	}
}

// Transcode encodes input and returns every file a player needs. contentType
// selects the scratch input extension; onProgress may be nil. Reported
// progress never decreases, stays at or below 0.99 while encoding, and ends
// with exactly one call at 1.0 once the bundle is complete.
func (e *Engine) Transcode(ctx context.Context, input []byte, contentType string, onProgress ProgressFunc) (*types.ArtifactBundle, error) {
	rt, err := e.runtimes.Acquire(ctx)
	if err != nil {
		return nil, tcerrors.Wrap(err, tcerrors.ErrorTypeRuntimeUnavailable, "acquire_runtime")
	}

	progress := &monotonicProgress{fn: onProgress}

	var bundle *types.ArtifactBundle
	err = rt.Exclusive(ctx, func(dir string) error {
		var encodeErr error
		bundle, encodeErr = e.encode(ctx, rt, dir, input, contentType, progress)
		return encodeErr
	})
	if err != nil {
		return nil, tcerrors.Wrap(err, tcerrors.ErrorTypeInternal, "transcode")
	}

	progress.complete()
	return bundle, nil
}

func (e *Engine) encode(ctx context.Context, rt *ffmpeg.Runtime, dir string, input []byte, contentType string, progress *monotonicProgress) (*types.ArtifactBundle, error) {
	inputName := ffmpeg.InputName(contentType)
	inputPath := filepath.Join(dir, inputName)
	if err := os.WriteFile(inputPath, input, 0644); err != nil {
		return nil, tcerrors.IOError("write_input", err)
	}

	srcWidth, srcHeight := 0, 0
	silentAudio := false
	probe, err := rt.Prober().Probe(ctx, inputPath)
	if err != nil {
		e.logger.Warn("could not probe source, progress will be coarse", "error", err)
	} else {
		if w, h, ok := probe.VideoDimensions(); ok {
			srcWidth, srcHeight = w, h
		}
		// An unprobed source keeps the optional audio map instead
		silentAudio = !probe.HasAudio()
	}

	e.logger.Debug("starting encode",
		"input", inputName,
		"bytes", len(input),
		"duration", probe.Duration(),
		"source_width", srcWidth,
		"source_height", srcHeight,
		"silent_audio", silentAudio,
	)

	pw := ffmpeg.NewProgressWriter(probe.Duration(), progress.report)
	args := ffmpeg.BuildHLSArgs(e.rung, inputName, silentAudio)
	if err := rt.Runner().Run(ctx, dir, pw, rt.FFmpegPath(), args...); err != nil {
		encErr := tcerrors.EncodeError("encode", err)
		var execErr *ffmpeg.ExecError
		if errors.As(err, &execErr) && execErr.LastLine != "" {
			encErr.WithDetail("stderr", execErr.LastLine)
		}
		return nil, encErr
	}

	variantName := e.rung.VariantPlaylist()
	playlist, err := os.ReadFile(filepath.Join(dir, variantName))
	if err != nil {
		return nil, tcerrors.IOError("read_playlist", err)
	}

	refs, err := manifest.CollectReferencedFiles(string(playlist))
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, tcerrors.EncodeError("collect_artifacts", errors.New("encoder produced no segments"))
	}

	// Walk the reference closure; nested playlists contribute their own refs.
	files := map[string][]byte{variantName: playlist}
	pending := manifest.SortedFiles(refs)
	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]
		if _, seen := files[name]; seen || name == inputName {
			continue
		}
		if !isLocalName(name) {
			return nil, tcerrors.ManifestError("collect_artifacts",
				fmt.Errorf("%w: reference %q leaves the output directory", tcerrors.ErrManifestParse, name))
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, tcerrors.IOError("read_artifact", err).WithDetail("artifact", name)
		}
		files[name] = data

		if strings.HasSuffix(name, ".m3u8") {
			nested, err := manifest.CollectReferencedFiles(string(data))
			if err != nil {
				return nil, err
			}
			pending = append(pending, manifest.SortedFiles(nested)...)
		}
	}

	var variantSize int64
	for _, data := range files {
		variantSize += int64(len(data))
	}

	height := e.outputHeight(ctx, rt, dir, srcWidth, srcHeight)
	files[MasterName] = []byte(manifest.BuildMasterManifest(variantName, e.rung.Width, height, e.rung.Bandwidth()))

	return &types.ArtifactBundle{
		Files:       files,
		MasterName:  MasterName,
		VariantName: variantName,
		Rendition: types.RenditionDescriptor{
			Resolution: e.rung.Label,
			Width:      e.rung.Width,
			Height:     height,
			Bitrate:    e.rung.Bandwidth(),
			SizeBytes:  variantSize,
		},
	}, nil
}

// outputHeight reads the height the encoder applied from the init segment.
// When that fails it is derived from the source dimensions.
func (e *Engine) outputHeight(ctx context.Context, rt *ffmpeg.Runtime, dir string, srcWidth, srcHeight int) int {
	probe, err := rt.Prober().Probe(ctx, filepath.Join(dir, e.rung.InitSegment()))
	if err == nil {
		if w, h, ok := probe.VideoDimensions(); ok && w == e.rung.Width {
			return h
		}
	}
	return e.rung.ScaledHeight(srcWidth, srcHeight)
}

// isLocalName rejects references that are URLs or climb out of the scratch dir.
func isLocalName(name string) bool {
	if strings.Contains(name, "://") || filepath.IsAbs(name) {
		return false
	}
	clean := filepath.Clean(name)
	return clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator))
}

// monotonicProgress forwards ratios that do not go backwards, capping them
// below completion until complete is called.
type monotonicProgress struct {
	fn ProgressFunc

	mu   sync.Mutex
	last float64
	sent bool
}

func (p *monotonicProgress) report(ratio float64) {
	if p.fn == nil {
		return
	}
	if ratio > maxPreCompletion {
		ratio = maxPreCompletion
	}
	if ratio < 0 {
		ratio = 0
	}

	p.mu.Lock()
	if p.sent && ratio <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = ratio
	p.sent = true
	p.mu.Unlock()

	p.fn(ratio)
}

func (p *monotonicProgress) complete() {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	p.last = 1
	p.sent = true
	p.mu.Unlock()

	p.fn(1)
}
