// Package pipeline drives one job from pending to a terminal status: it claims
// the job in the ledger, fetches the source, runs the engine, persists the
// artifacts and records the outcome.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/vodforge/vodforge/internal/database"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/dispatch"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/engine"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/storage"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/types"
)

// maxEncodingPercent is the highest progress mirrored while the engine runs.
// 100 is only ever written by Complete.
const maxEncodingPercent = 99

// JobLedger is the subset of the ledger the pipeline drives
type JobLedger interface {
	StartProcessing(ctx context.Context, id string) (*database.Job, error)
	UpdateProgress(ctx context.Context, id string, pct int) (bool, error)
	Complete(ctx context.Context, id string, result types.CompletionResult) (*database.Job, error)
	Fail(ctx context.Context, id string, message string) (*database.Job, error)
}

// Transcoder produces the artifact bundle for one source
type Transcoder interface {
	Transcode(ctx context.Context, input []byte, contentType string, onProgress engine.ProgressFunc) (*types.ArtifactBundle, error)
}

// SourceFetcher downloads a job's source media
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Processor runs jobs end to end. It is safe for concurrent use; the engine
// serializes encodes on the shared runtime.
type Processor struct {
	ledger JobLedger
	engine Transcoder
	source SourceFetcher
	store  storage.ObjectStore
	logger hclog.Logger
}

// NewProcessor wires a processor from its collaborators
func NewProcessor(ledger JobLedger, transcoder Transcoder, source SourceFetcher, store storage.ObjectStore, logger hclog.Logger) *Processor {
	return &Processor{
		ledger: ledger,
		engine: transcoder,
		source: source,
		store:  store,
		logger: logger.Named("pipeline"),
	}
}

// Process runs jobID. A malformed id is rejected before the ledger is
// touched, and a job some other caller already claimed is left alone. Every
// failure after the claim is recorded on the job with a caller-safe message
// and returned.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	id, err := dispatch.ValidateJobID(jobID)
	if err != nil {
		return err
	}

	job, err := p.ledger.StartProcessing(ctx, id)
	if err != nil {
		if errors.Is(err, tcerrors.ErrLedgerConflict) {
			p.logger.Info("job already claimed, skipping", "job_id", id, "error", err)
		}
		return err
	}

	start := time.Now()
	p.logger.Info("processing job", "job_id", id, "owner_id", job.OwnerID, "input", job.InputFileURL)

	result, err := p.run(ctx, job)
	if err != nil {
		return p.fail(ctx, id, err)
	}

	if _, err := p.ledger.Complete(ctx, id, *result); err != nil {
		return p.fail(ctx, id, err)
	}

	p.logger.Info("job completed",
		"job_id", id,
		"output_url", result.OutputURL,
		"total_size_bytes", result.TotalSizeBytes,
		"duration", time.Since(start))
	return nil
}

func (p *Processor) run(ctx context.Context, job *database.Job) (*types.CompletionResult, error) {
	input, contentType, err := p.source.Fetch(ctx, job.InputFileURL)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = job.InputContentType
	}

	bundle, err := p.engine.Transcode(ctx, input, contentType, p.progressFunc(ctx, job.ID))
	if err != nil {
		return nil, err
	}

	return p.persist(ctx, job, bundle)
}

// progressFunc mirrors engine progress into the ledger as whole percents.
// Writes that the ledger ignores or that fail never stop the encode.
func (p *Processor) progressFunc(ctx context.Context, jobID string) engine.ProgressFunc {
	last := -1
	return func(ratio float64) {
		pct := int(ratio * 100)
		if pct > maxEncodingPercent {
			pct = maxEncodingPercent
		}
		if pct < 0 || pct <= last {
			return
		}
		last = pct

		if _, err := p.ledger.UpdateProgress(ctx, jobID, pct); err != nil {
			p.logger.Warn("failed to record progress", "job_id", jobID, "progress", pct, "error", err)
		}
	}
}

// persist uploads every artifact and builds the completion record. The first
// failed upload aborts the job; nothing is written to the ledger until all
// uploads succeeded.
func (p *Processor) persist(ctx context.Context, job *database.Job, bundle *types.ArtifactBundle) (*types.CompletionResult, error) {
	urls := make(map[string]string, len(bundle.Files))
	var total int64

	for _, name := range bundle.Names() {
		data := bundle.Files[name]
		objectPath := storage.ArtifactPath(job.OwnerID, job.ID, name)
		url, err := p.store.Put(ctx, objectPath, data, storage.ContentTypeFor(name))
		if err != nil {
			return nil, tcerrors.IOError("store_artifact", err).WithJob(job.ID).WithDetail("artifact", name)
		}
		urls[name] = url
		total += int64(len(data))
	}

	masterURL, ok := urls[bundle.MasterName]
	if !ok {
		return nil, tcerrors.InternalError("store_artifact", errors.New("bundle has no master playlist")).WithJob(job.ID)
	}

	variant := bundle.Rendition
	variant.URL = urls[bundle.VariantName]
	variant.SizeBytes = total - bundle.Size(bundle.MasterName)

	return &types.CompletionResult{
		OutputURL:      masterURL,
		Variants:       []types.RenditionDescriptor{variant},
		TotalSizeBytes: total,
	}, nil
}

// fail records err on the job and returns it. The write uses a context that
// survives cancellation of ctx so a timed-out run still ends in failed.
func (p *Processor) fail(ctx context.Context, jobID string, cause error) error {
	cause = tcerrors.Wrap(cause, tcerrors.ErrorTypeInternal, "process_job")
	message := tcerrors.SafeMessage(cause)

	p.logger.Error("job failed",
		"job_id", jobID,
		"type", tcerrors.GetType(cause),
		"op", tcerrors.GetOperation(cause),
		"error", cause)

	if _, err := p.ledger.Fail(context.WithoutCancel(ctx), jobID, message); err != nil {
		p.logger.Error("failed to record job failure", "job_id", jobID, "error", err)
	}
	return cause
}
