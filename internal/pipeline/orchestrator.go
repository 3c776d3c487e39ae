package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/veeky/veeky-indexer/internal/enrich"
	"github.com/veeky/veeky-indexer/internal/logging"
	"github.com/veeky/veeky-indexer/internal/media"
	"github.com/veeky/veeky-indexer/internal/search"
	"github.com/veeky/veeky-indexer/internal/transcribe"
	"github.com/veeky/veeky-indexer/internal/video"
)

var (
	// ErrAlreadyRunning means another worker holds the video's lease.
	// Duplicate dispatch is expected, not exceptional.
	ErrAlreadyRunning = errors.New("job already running")

	// ErrNotPending means the video was not in PENDING when the run started,
	// usually because a duplicate delivery raced a finished run.
	ErrNotPending = errors.New("video is not pending")

	// errEnrichmentDegraded marks a segment whose documents were written with
	// empty or partial enrichment fields after the enrichment budget ran out.
	errEnrichmentDegraded = errors.New("enrichment degraded")
)

// ClipExtractor cuts a segment's audio into a standalone clip for
// transcription. *media.FFmpeg satisfies it.
type ClipExtractor interface {
	ExtractClip(ctx context.Context, videoPath string, start, duration float64, outPath string) error
}

// Options configures one Orchestrator.
type Options struct {
	Owner          string
	LeaseTTL       time.Duration
	SegmentWorkers int
	WorkDir        string
	ChunkMaxChars  int

	IndexRetry      RetryPolicy
	TranscribeRetry RetryPolicy
	EnrichRetry     RetryPolicy

	SnapshotDefaults video.SnapshotDefaults
}

// Outcome summarizes one finished run. FailedSegments is observability
// metadata; clients only see the status and cause.
type Outcome struct {
	Status         string
	SegmentsTotal  int
	SegmentsFailed int
	FailedSegments []int
	Cause          string
}

// Orchestrator owns a video's status for the duration of one run. It is safe
// for concurrent use; each RunJob call is independent.
type Orchestrator struct {
	repo        video.Repository
	analyzer    media.Analyzer
	clips       ClipExtractor
	transcriber transcribe.Transcriber
	enricher    enrich.Enricher
	indexer     search.Indexer
	opts        Options
	logger      *slog.Logger
}

func NewOrchestrator(
	repo video.Repository,
	analyzer media.Analyzer,
	clips ClipExtractor,
	transcriber transcribe.Transcriber,
	enricher enrich.Enricher,
	indexer search.Indexer,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	if opts.SegmentWorkers < 1 {
		opts.SegmentWorkers = 1
	}
	if opts.ChunkMaxChars <= 0 {
		opts.ChunkMaxChars = 900
	}
	return &Orchestrator{
		repo:        repo,
		analyzer:    analyzer,
		clips:       clips,
		transcriber: transcriber,
		enricher:    enricher,
		indexer:     indexer,
		opts:        opts,
		logger:      logger,
	}
}

// RunJob drives one video through the whole pipeline. The caller gets
// ErrAlreadyRunning or ErrNotPending on duplicate dispatch; any other return
// comes with the terminal Outcome already persisted.
func (o *Orchestrator) RunJob(ctx context.Context, videoID string) (*Outcome, error) {
	logger := logging.WithVideoID(o.logger, videoID)

	v, err := o.repo.GetVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("load video: %w", err)
	}
	if v == nil {
		return nil, fmt.Errorf("video %s not found", videoID)
	}

	ok, err := o.repo.AcquireLease(ctx, videoID, o.opts.Owner, o.opts.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	// Terminal writes and the lease release must survive cancellation.
	endCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := o.repo.ReleaseLease(endCtx, videoID, o.opts.Owner); err != nil {
			logger.Warn("lease release failed", "error", err)
		}
	}()

	hbCtx, stopHeartbeat := context.WithCancel(endCtx)
	defer stopHeartbeat()
	go o.heartbeat(hbCtx, videoID, logger)

	// Everything this run writes to disk lives under one per-video directory.
	if o.opts.WorkDir != "" {
		defer os.RemoveAll(filepath.Join(o.opts.WorkDir, videoID))
	}

	ok, err = o.repo.TransitionStatus(ctx, videoID, video.StatusPending, video.StatusProcessing, "")
	if err != nil {
		return nil, fmt.Errorf("transition to processing: %w", err)
	}
	if !ok {
		return nil, ErrNotPending
	}
	logger.Info("job started", "source", v.SourceType, "path", logging.SanitizePath(v.FilePath))

	snap, err := o.repo.Snapshot(ctx, v.CategoryID, o.opts.SnapshotDefaults)
	if err != nil {
		return o.fail(endCtx, logger, videoID, nil, "configuration: "+err.Error())
	}
	intervals, err := o.repo.GetIntervals(ctx, videoID)
	if err != nil {
		return o.fail(endCtx, logger, videoID, nil, "configuration: "+err.Error())
	}

	analysis, err := o.analyzer.Analyze(ctx, v.ID, v.FilePath, intervals)
	if err != nil {
		return o.fail(endCtx, logger, videoID, nil, err.Error())
	}
	logger.Info("media analyzed", "duration", analysis.Duration, "segments", len(analysis.Segments))

	parent := buildParent(v, snap, analysis.Duration)
	var parentID string
	err = Retry(ctx, o.opts.IndexRetry, logger, "create parent", func() error {
		id, err := o.indexer.CreateParent(ctx, parent)
		if err == nil {
			parentID = id
		}
		return err
	})
	if err != nil {
		return o.fail(endCtx, logger, videoID, nil, "parent document: "+err.Error())
	}
	if err := o.repo.SetSearchParentID(ctx, videoID, parentID); err != nil {
		return o.fail(endCtx, logger, videoID, nil, "record parent id: "+err.Error())
	}

	failed, cancelled := o.fanOut(ctx, v, snap, parentID, analysis.Segments)

	outcome := &Outcome{
		SegmentsTotal:  len(analysis.Segments),
		SegmentsFailed: len(failed),
		FailedSegments: failed,
	}
	switch {
	case cancelled:
		outcome.Status = video.StatusFailed
		outcome.Cause = "cancelled"
	case len(failed) < len(analysis.Segments):
		outcome.Status = video.StatusCompleted
	default:
		outcome.Status = video.StatusFailed
		outcome.Cause = "all segments failed"
	}

	if _, err := o.repo.TransitionStatus(endCtx, videoID, video.StatusProcessing, outcome.Status, outcome.Cause); err != nil {
		return outcome, fmt.Errorf("record terminal status: %w", err)
	}
	logger.Info("job finished",
		"status", outcome.Status,
		"segments", outcome.SegmentsTotal,
		"failed_segments", outcome.FailedSegments)
	return outcome, nil
}

// fanOut runs segment tasks on a bounded worker pool and waits for every
// dispatched task before returning (join barrier). Cancellation stops new
// dispatches; in-flight tasks drain.
func (o *Orchestrator) fanOut(ctx context.Context, v *video.Video, snap *video.ConfigSnapshot, parentID string, segments []media.Segment) (failed []int, cancelled bool) {
	sem := make(chan struct{}, o.opts.SegmentWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, seg := range segments {
		sem <- struct{}{}
		if ctx.Err() != nil {
			<-sem
			cancelled = true
			mu.Lock()
			failed = append(failed, seg.Index)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(seg media.Segment) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := o.processSegment(ctx, v, snap, parentID, seg); err != nil {
				mu.Lock()
				failed = append(failed, seg.Index)
				mu.Unlock()
			}
		}(seg)
	}
	wg.Wait()

	if ctx.Err() != nil {
		cancelled = true
	}
	sort.Ints(failed)
	return failed, cancelled
}

// processSegment runs one segment end to end. A nil return means every step
// succeeded; errEnrichmentDegraded means the documents were written but some
// enrichment fields are empty; any other error means the segment produced no
// primary document.
func (o *Orchestrator) processSegment(ctx context.Context, v *video.Video, snap *video.ConfigSnapshot, parentID string, seg media.Segment) error {
	logger := logging.WithSegment(logging.WithVideoID(o.logger, v.ID), seg.Index)

	segDir := filepath.Join(o.opts.WorkDir, v.ID)
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	clipPath := filepath.Join(segDir, fmt.Sprintf("segment-%d.wav", seg.Index))
	defer os.Remove(clipPath)

	var transcript string
	err := Retry(ctx, o.opts.TranscribeRetry, logger, "transcribe", func() error {
		if err := o.clips.ExtractClip(ctx, v.FilePath, seg.Start, seg.Duration(), clipPath); err != nil {
			return err
		}
		text, err := o.transcriber.Transcribe(ctx, clipPath)
		if err != nil {
			return err
		}
		transcript = text
		return nil
	})
	if err != nil {
		logger.Warn("segment transcription failed", "error", err)
		return fmt.Errorf("transcribe: %w", err)
	}

	degraded := false

	textEnrich := &enrich.TextEnrichment{Clean: transcript}
	if strings.TrimSpace(transcript) != "" {
		err = Retry(ctx, o.opts.EnrichRetry, logger, "enrich text", func() error {
			te, err := o.enricher.EnrichText(ctx, snap, transcript)
			if err == nil {
				textEnrich = te
			}
			return err
		})
		if err != nil {
			// Index the raw transcript rather than dropping the segment.
			logger.Warn("text enrichment failed", "error", err)
			textEnrich = &enrich.TextEnrichment{Clean: transcript}
			degraded = true
		}
	}

	chunks := chunkText(textEnrich.Clean, o.opts.ChunkMaxChars)
	if len(chunks) == 0 {
		// A silent segment still gets its primary document so keyframes and
		// timing remain searchable.
		chunks = []string{""}
	}
	for j, chunk := range chunks {
		doc := search.ChildDocument{
			VideoID:       v.ID,
			ChunkType:     search.ChunkTypeText,
			StartSeconds:  seg.Start,
			EndSeconds:    seg.End,
			TextContent:   chunk,
			VideoRelation: search.ChildRelation{Name: search.RelationChunk, Parent: parentID},
		}
		if j == 0 {
			doc.Keywords = textEnrich.Keywords
			doc.TextEmbedding = textEnrich.Embedding
		} else if strings.TrimSpace(chunk) != "" {
			// Overflow chunks get their own vector so kNN can reach them.
			var embedding []float32
			err := Retry(ctx, o.opts.EnrichRetry, logger, "embed chunk", func() error {
				vec, err := o.enricher.EmbedText(ctx, snap, chunk)
				if err == nil {
					embedding = vec
				}
				return err
			})
			if err != nil {
				logger.Warn("chunk embedding failed", "chunk", j, "error", err)
				degraded = true
			} else {
				doc.TextEmbedding = embedding
			}
		}
		if err := o.indexChild(ctx, logger, search.ChunkID(v.ID, seg.Index, j), doc); err != nil {
			return fmt.Errorf("index text chunk: %w", err)
		}
	}

	for _, kf := range seg.Keyframes {
		doc := search.ChildDocument{
			VideoID:       v.ID,
			ChunkType:     search.ChunkTypeKeyframe,
			StartSeconds:  kf.Timestamp,
			EndSeconds:    kf.Timestamp,
			KeyframePath:  kf.Path,
			VideoRelation: search.ChildRelation{Name: search.RelationChunk, Parent: parentID},
		}
		var imageEnrich *enrich.ImageEnrichment
		err = Retry(ctx, o.opts.EnrichRetry, logger, "enrich keyframe", func() error {
			res, err := o.enricher.EnrichImage(ctx, snap, kf.Path)
			if err == nil {
				imageEnrich = res
			}
			return err
		})
		if err != nil {
			// The document is still written so the keyframe stays
			// discoverable by time, just without enrichment fields.
			logger.Warn("keyframe enrichment failed", "timestamp", kf.Timestamp, "error", err)
			degraded = true
		} else {
			doc.TextContent = imageEnrich.Description
			doc.OCRText = imageEnrich.OCRText
			doc.ImageEmbedding = imageEnrich.Embedding
			doc.TextEmbedding = imageEnrich.DescriptionEmbedding
		}
		if err := o.indexChild(ctx, logger, search.KeyframeID(v.ID, kf.Timestamp), doc); err != nil {
			return fmt.Errorf("index keyframe: %w", err)
		}
	}

	if degraded {
		return errEnrichmentDegraded
	}
	return nil
}

func (o *Orchestrator) indexChild(ctx context.Context, logger *slog.Logger, id string, doc search.ChildDocument) error {
	return Retry(ctx, o.opts.IndexRetry, logger, "index child", func() error {
		return o.indexer.IndexChild(ctx, id, doc)
	})
}

// fail records a terminal FAILED status with the given cause.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, videoID string, failedSegments []int, cause string) (*Outcome, error) {
	outcome := &Outcome{
		Status:         video.StatusFailed,
		FailedSegments: failedSegments,
		SegmentsFailed: len(failedSegments),
		Cause:          cause,
	}
	if _, err := o.repo.TransitionStatus(ctx, videoID, video.StatusProcessing, video.StatusFailed, cause); err != nil {
		return outcome, fmt.Errorf("record failure: %w", err)
	}
	logger.Error("job failed", "cause", cause)
	return outcome, nil
}

// heartbeat renews the lease while the run is active so a slow job is not
// mistaken for a crashed worker.
func (o *Orchestrator) heartbeat(ctx context.Context, videoID string, logger *slog.Logger) {
	interval := o.opts.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := o.repo.RenewLease(ctx, videoID, o.opts.Owner, o.opts.LeaseTTL)
			if err != nil {
				logger.Warn("lease renewal failed", "error", err)
			} else if !ok {
				logger.Warn("lease lost")
			}
		}
	}
}

func buildParent(v *video.Video, snap *video.ConfigSnapshot, duration float64) search.ParentDocument {
	return search.ParentDocument{
		VideoID:         v.ID,
		Title:           v.Name,
		Description:     v.Description,
		Keywords:        v.Keywords,
		SourceURL:       v.SourceURL,
		CategoryName:    snap.Category,
		UploadTimestamp: v.CreatedAt.UTC().Format(time.RFC3339),
		DurationSeconds: duration,
		VideoRelation:   search.RelationVideo,
	}
}
