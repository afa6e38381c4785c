// Package replay runs the replay pipeline: locator resolution, replay
// download, external decode, artifact upload, and reference persistence.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/esports/backend/internal/domain/replay"
	"github.com/esports/backend/internal/domain/stats"
	"github.com/esports/backend/internal/infrastructure/config"
)

// Pipeline coordinates the five steps of one replay job. Steps are
// idempotent where the outside world allows it: an already-downloaded
// file is not re-fetched and an already-uploaded artifact is not
// re-uploaded. Local scratch files are deleted on terminal success and
// on failed decodes; error detail survives on the job itself.
type Pipeline struct {
	resolver   replay.LocatorResolver
	artifacts  replay.ArtifactStore
	decoder    replay.Decoder
	entities   stats.EntityStore
	cfg        config.ReplayConfig
	logger     *zap.Logger
	httpClient *http.Client
}

// NewPipeline creates a replay pipeline.
func NewPipeline(
	resolver replay.LocatorResolver,
	artifacts replay.ArtifactStore,
	decoder replay.Decoder,
	entities stats.EntityStore,
	cfg config.ReplayConfig,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		resolver:  resolver,
		artifacts: artifacts,
		decoder:   decoder,
		entities:  entities,
		cfg:       cfg,
		logger:    logger.Named("replay"),
		// Per-request deadlines come from DownloadTimeout contexts;
		// the client itself stays unbounded.
		httpClient: &http.Client{},
	}
}

// ProcessMatch runs one match's replay job to a terminal state. The
// returned job is always terminal; errors are folded into it rather
// than returned, so a batch caller can aggregate without unwinding.
func (p *Pipeline) ProcessMatch(ctx context.Context, matchID string) *replay.Job {
	job := replay.NewJob(matchID)

	// Resolve the locator.
	locator, err := p.resolver.ResolveReplayLocator(ctx, matchID)
	if err != nil {
		if errors.Is(err, stats.ErrNotFound) {
			// No replay recorded for this match. Terminal, not retryable.
			job.Fail("resolve", replay.ErrLocatorNotFound)
		} else {
			job.Fail("resolve", err)
		}
		return job
	}
	if err := job.MarkLocatorResolved(locator); err != nil {
		job.Fail("resolve", err)
		return job
	}

	// Download the replay binary to scratch disk.
	localPath, err := p.download(ctx, matchID, locator)
	if err != nil {
		job.Fail("download", err)
		return job
	}
	if err := job.MarkDownloaded(localPath); err != nil {
		job.Fail("download", err)
		return job
	}

	// Decode through the external binary. A failed decode is terminal
	// and leaves no scratch file behind.
	summary, err := p.decoder.Decode(ctx, matchID, localPath, p.cfg.DecodeTimeout)
	if err != nil {
		job.Fail("decode", err)
		p.removeScratch(localPath)
		return job
	}
	if err := job.MarkDecoded(summary); err != nil {
		job.Fail("decode", err)
		return job
	}

	// Upload the decoded artifact and persist the reference.
	objectKey := replay.ArtifactKey(matchID, job.CreatedAt)
	if err := p.upload(ctx, objectKey, summary); err != nil {
		job.Fail("upload", err)
		return job
	}

	if err := p.entities.RecordReplayReference(ctx, matchID, objectKey, time.Now()); err != nil {
		job.Fail("persist", err)
		return job
	}
	if err := job.MarkPersisted(objectKey); err != nil {
		job.Fail("persist", err)
		return job
	}

	p.cleanup(job)

	p.logger.Info("replay job completed",
		zap.String("match_id", matchID),
		zap.String("object_key", objectKey),
		zap.Duration("decode_duration", summary.DecodeDuration))
	return job
}

// ProcessBatch runs jobs for all match ids with bounded concurrency.
// One job's failure never aborts the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, matchIDs []string) *replay.BatchResult {
	result := &replay.BatchResult{}
	if len(matchIDs) == 0 {
		return result
	}

	concurrency := int64(p.cfg.BatchConcurrency)
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, matchID := range matchIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context ended; everything not yet started fails terminally.
			job := replay.NewJob(matchID)
			job.Fail("acquire", err)
			mu.Lock()
			result.Add(job)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(matchID string) {
			defer wg.Done()
			defer sem.Release(1)

			job := p.ProcessMatch(ctx, matchID)

			mu.Lock()
			result.Add(job)
			mu.Unlock()
		}(matchID)
	}
	wg.Wait()

	p.logger.Info("replay batch completed",
		zap.Int("total", result.Total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))
	return result
}

// SweepMissing finds matches inside the window without a decoded replay
// and runs a batch over them.
func (p *Pipeline) SweepMissing(ctx context.Context, from, to time.Time) (*replay.BatchResult, error) {
	matchIDs, err := p.entities.FindMatchesMissingReplay(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("finding matches missing replay: %w", err)
	}
	return p.ProcessBatch(ctx, matchIDs), nil
}

// ----------------------------------------------------------------------
// Steps
// ----------------------------------------------------------------------

// download streams the replay to scratch disk. A non-empty existing
// file is reused; a partial file from an aborted run is overwritten
// through a temp-rename pair.
func (p *Pipeline) download(ctx context.Context, matchID, locator string) (string, error) {
	if err := os.MkdirAll(p.cfg.ScratchDir, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}

	localPath := filepath.Join(p.cfg.ScratchDir, matchID+".dem.bz2")
	if info, err := os.Stat(localPath); err == nil && info.Size() > 0 {
		p.logger.Debug("replay already downloaded",
			zap.String("match_id", matchID),
			zap.Int64("bytes", info.Size()))
		return localPath, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return "", fmt.Errorf("building download request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading replay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading replay: status %d", resp.StatusCode)
	}

	tmpPath := localPath + ".partial"
	file, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating scratch file: %w", err)
	}

	written, err := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing replay to scratch: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing scratch file: %w", closeErr)
	}
	if written == 0 {
		os.Remove(tmpPath)
		return "", fmt.Errorf("downloaded replay is empty")
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("finalizing scratch file: %w", err)
	}

	p.logger.Debug("replay downloaded",
		zap.String("match_id", matchID),
		zap.Int64("bytes", written))
	return localPath, nil
}

// artifactEnvelope wraps the decoder's raw output with the job metadata
// the artifact is annotated with before upload.
type artifactEnvelope struct {
	MatchID          string          `json:"match_id"`
	DecoderVersion   string          `json:"decoder_version"`
	DecodeDurationMs int64           `json:"decode_duration_ms"`
	DecodedAt        time.Time       `json:"decoded_at"`
	Data             json.RawMessage `json:"data"`
}

// upload annotates and stores the decoded artifact, skipping when the
// object already exists.
func (p *Pipeline) upload(ctx context.Context, objectKey string, summary *replay.DecodeSummary) error {
	exists, err := p.artifacts.ObjectExists(ctx, objectKey)
	if err != nil {
		return fmt.Errorf("checking artifact existence: %w", err)
	}
	if exists {
		p.logger.Debug("artifact already uploaded", zap.String("object_key", objectKey))
		return nil
	}

	data, err := os.ReadFile(summary.OutputPath)
	if err != nil {
		return fmt.Errorf("reading decoded artifact: %w", err)
	}

	payload, err := json.Marshal(artifactEnvelope{
		MatchID:          summary.MatchID,
		DecoderVersion:   summary.DecoderVersion,
		DecodeDurationMs: summary.DecodeDuration.Milliseconds(),
		DecodedAt:        time.Now().UTC(),
		Data:             json.RawMessage(data),
	})
	if err != nil {
		return fmt.Errorf("annotating decoded artifact: %w", err)
	}

	if err := p.artifacts.Upload(ctx, objectKey, payload, "application/json"); err != nil {
		return fmt.Errorf("uploading artifact: %w", err)
	}
	return nil
}

// cleanup deletes a successful job's scratch files.
func (p *Pipeline) cleanup(job *replay.Job) {
	if !job.Succeeded() {
		return
	}
	p.removeScratch(job.LocalPath)
	if job.Summary != nil && job.Summary.OutputPath != "" {
		p.removeScratch(job.Summary.OutputPath)
		// The per-job decode directory is empty once its artifact is gone.
		_ = os.Remove(filepath.Dir(job.Summary.OutputPath))
	}
}

func (p *Pipeline) removeScratch(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("scratch cleanup failed",
			zap.String("path", path), zap.Error(err))
	}
}
