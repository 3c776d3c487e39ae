package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/veeky/veeky-indexer/internal/video"
)

// Analyzer produces the ordered segment list for a video file. Manual
// intervals, when present, override automatic boundary detection. Scratch
// output (keyframe images) is keyed by videoID so concurrent jobs never
// touch each other's files.
type Analyzer interface {
	Analyze(ctx context.Context, videoID, videoPath string, intervals []video.Interval) (*Analysis, error)
}

// Config holds the analyzer's tunables.
type Config struct {
	WorkDir          string  // scratch directory for keyframes and audio clips
	KeyframeInterval float64 // minimum seconds between kept keyframes
	SceneThreshold   float64 // ffmpeg scene-change score threshold
	MinSegmentSec    float64
	MaxSegmentSec    float64
	SilenceNoise     string
	SilenceDuration  float64
}

// FFmpegAnalyzer is the production Analyzer backed by ffmpeg subprocesses.
type FFmpegAnalyzer struct {
	ffmpeg *FFmpeg
	cfg    Config
	logger *slog.Logger
}

func NewAnalyzer(ffmpeg *FFmpeg, cfg Config, logger *slog.Logger) *FFmpegAnalyzer {
	return &FFmpegAnalyzer{ffmpeg: ffmpeg, cfg: cfg, logger: logger}
}

func (a *FFmpegAnalyzer) Analyze(ctx context.Context, videoID, videoPath string, intervals []video.Interval) (*Analysis, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, &StructuralError{Reason: "video file missing", Err: err}
	}

	duration, err := a.ffmpeg.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	// Per-video directory: keyframe files are owned by this job run and are
	// removed together with the rest of the job's work dir.
	keyframeDir := filepath.Join(a.cfg.WorkDir, videoID, "keyframes")
	keyframes, err := a.ffmpeg.ExtractKeyframes(ctx, videoPath, keyframeDir,
		a.cfg.SceneThreshold, a.cfg.KeyframeInterval)
	if err != nil {
		return nil, &StructuralError{Reason: "keyframe extraction failed", Err: err}
	}

	var segments []Segment
	if len(intervals) > 0 {
		segments = segmentsFromIntervals(intervals)
		if a.logger != nil {
			a.logger.Info("using manual intervals", "count", len(segments))
		}
	} else {
		boundaries := make([]float64, 0, len(keyframes))
		for _, kf := range keyframes {
			boundaries = append(boundaries, kf.Timestamp)
		}

		// Silence detection is best effort; segmentation works from keyframe
		// boundaries alone when the audio pass fails.
		silence, err := a.ffmpeg.SilenceBoundaries(ctx, videoPath,
			a.cfg.SilenceNoise, a.cfg.SilenceDuration)
		if err != nil {
			if a.logger != nil {
				a.logger.Warn("silence detection failed", "error", err)
			}
		} else {
			boundaries = append(boundaries, silence...)
		}

		segments = planSegments(duration, boundaries, a.cfg.MinSegmentSec, a.cfg.MaxSegmentSec)
	}

	if len(segments) == 0 {
		return nil, &StructuralError{Reason: fmt.Sprintf("no segments planned for %.1fs video", duration)}
	}

	segments = assignKeyframes(segments, keyframes)

	if a.logger != nil {
		a.logger.Info("media analysis complete",
			"duration_s", duration,
			"segments", len(segments),
			"keyframes", len(keyframes),
		)
	}
	return &Analysis{Duration: duration, Segments: segments}, nil
}

func segmentsFromIntervals(intervals []video.Interval) []Segment {
	segments := make([]Segment, 0, len(intervals))
	for _, iv := range intervals {
		if iv.End <= iv.Start {
			continue
		}
		segments = append(segments, Segment{Start: iv.Start, End: iv.End})
	}
	return indexed(segments)
}
