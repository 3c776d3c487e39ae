package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

const maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

// FFmpeg wraps the ffmpeg and ffprobe binaries. Every invocation runs under
// a deadline so a hung subprocess fails the step instead of stalling the job.
type FFmpeg struct {
	ffmpegPath   string
	ffprobePath  string
	probeTimeout time.Duration
	execTimeout  time.Duration
	logger       *slog.Logger
}

// NewFFmpeg resolves the ffmpeg and ffprobe binaries, preferring explicit
// paths and falling back to PATH lookup. probeTimeout bounds ffprobe calls;
// execTimeout bounds every ffmpeg invocation.
func NewFFmpeg(ffmpegPath, ffprobePath string, probeTimeout, execTimeout time.Duration, logger *slog.Logger) (*FFmpeg, error) {
	ffmpeg, err := resolveBinary(ffmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(ffprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}
	return &FFmpeg{
		ffmpegPath:   ffmpeg,
		ffprobePath:  ffprobe,
		probeTimeout: probeTimeout,
		execTimeout:  execTimeout,
		logger:       logger,
	}, nil
}

func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

// Probe returns the container duration in seconds. An unreadable file is a
// structural failure.
func (f *FFmpeg) Probe(ctx context.Context, videoPath string) (float64, error) {
	ctx, cancel := withTimeout(ctx, f.probeTimeout)
	defer cancel()

	out, _, err := f.run(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		videoPath,
	)
	if err != nil {
		return 0, &StructuralError{Reason: "ffprobe failed", Err: err}
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, &StructuralError{Reason: "unparseable ffprobe output", Err: err}
	}
	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil || duration <= 0 {
		return 0, &StructuralError{Reason: "media has no readable duration", Err: err}
	}
	return duration, nil
}

// ExtractKeyframes writes scene-change frames to outDir and returns them in
// timestamp order. minGap drops frames closer together than the configured
// keyframe interval.
func (f *FFmpeg) ExtractKeyframes(ctx context.Context, videoPath, outDir string, sceneThreshold, minGap float64) ([]Keyframe, error) {
	ctx, cancel := withTimeout(ctx, f.execTimeout)
	defer cancel()

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}

	pattern := filepath.Join(outDir, "frame_%05d.jpg")
	filter := fmt.Sprintf("select='isnan(prev_selected_t)+gt(scene,%s)',showinfo",
		strconv.FormatFloat(sceneThreshold, 'f', -1, 64))

	_, stderr, err := f.run(ctx, f.ffmpegPath,
		"-i", videoPath,
		"-vf", filter,
		"-vsync", "vfr",
		"-q:v", "3",
		"-y", pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("keyframe extraction: %w", err)
	}

	timestamps := parseShowinfoTimestamps(stderr)
	keyframes := make([]Keyframe, 0, len(timestamps))
	lastKept := -1.0
	for i, ts := range timestamps {
		if lastKept >= 0 && ts-lastKept < minGap {
			// Near-duplicate frames stay on disk and are removed with the
			// job's work directory.
			continue
		}
		path := filepath.Join(outDir, fmt.Sprintf("frame_%05d.jpg", i+1))
		keyframes = append(keyframes, Keyframe{Timestamp: ts, Path: path})
		lastKept = ts
	}

	if len(keyframes) == 0 {
		// Fall back to the very first frame so every video has at least one.
		fallback := filepath.Join(outDir, "frame_00000.jpg")
		if _, _, err := f.run(ctx, f.ffmpegPath,
			"-i", videoPath, "-frames:v", "1", "-q:v", "3", "-y", fallback,
		); err == nil {
			keyframes = append(keyframes, Keyframe{Timestamp: 0, Path: fallback})
		}
	}
	return keyframes, nil
}

// SilenceBoundaries runs silencedetect and returns silence start/end
// timestamps. Failures are not fatal to segmentation; callers treat an error
// as "no extra boundaries".
func (f *FFmpeg) SilenceBoundaries(ctx context.Context, videoPath, noise string, minSilence float64) ([]float64, error) {
	ctx, cancel := withTimeout(ctx, f.execTimeout)
	defer cancel()

	_, stderr, err := f.run(ctx, f.ffmpegPath,
		"-i", videoPath,
		"-af", fmt.Sprintf("silencedetect=noise=%s:d=%s", noise,
			strconv.FormatFloat(minSilence, 'f', -1, 64)),
		"-f", "null", "-",
	)
	if err != nil {
		return nil, fmt.Errorf("silencedetect: %w", err)
	}
	boundaries := parseSilenceBoundaries(stderr)
	sort.Float64s(boundaries)
	return boundaries, nil
}

// ExtractClip writes the segment's audio as 16 kHz mono WAV, the input format
// whisper expects.
func (f *FFmpeg) ExtractClip(ctx context.Context, videoPath string, start, duration float64, outPath string) error {
	ctx, cancel := withTimeout(ctx, f.execTimeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}
	if duration < 0.5 {
		duration = 0.5
	}
	_, _, err := f.run(ctx, f.ffmpegPath,
		"-ss", strconv.FormatFloat(start, 'f', 3, 64),
		"-t", strconv.FormatFloat(duration, 'f', 3, 64),
		"-i", videoPath,
		"-vn", "-ac", "1", "-ar", "16000",
		"-f", "wav",
		"-y", outPath,
	)
	if err != nil {
		return fmt.Errorf("audio clip extraction: %w", err)
	}
	return nil
}

// withTimeout adds a deadline only when one is configured.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// run executes a subprocess capturing stdout fully and a bounded stderr tail.
func (f *FFmpeg) run(ctx context.Context, bin string, args ...string) ([]byte, string, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout bytes.Buffer
	var stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if f.logger != nil {
			f.logger.Warn("media command failed",
				"bin", filepath.Base(bin),
				"duration_ms", elapsed.Milliseconds(),
				"error", err,
				"stderr_tail", truncate(stderrBuf.String(), 512),
			)
		}
		return stdout.Bytes(), stderrBuf.String(), fmt.Errorf("%s: %w: %s",
			filepath.Base(bin), err, truncate(stderrBuf.String(), 256))
	}

	if f.logger != nil {
		f.logger.Debug("media command succeeded",
			"bin", filepath.Base(bin),
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	return stdout.Bytes(), stderrBuf.String(), nil
}

var (
	showinfoPattern = regexp.MustCompile(`pts_time:([0-9]+(?:\.[0-9]+)?)`)
	silencePattern  = regexp.MustCompile(`silence_(?:start|end):\s*([0-9]+(?:\.[0-9]+)?)`)
)

func parseShowinfoTimestamps(stderr string) []float64 {
	matches := showinfoPattern.FindAllStringSubmatch(stderr, -1)
	timestamps := make([]float64, 0, len(matches))
	for _, m := range matches {
		ts, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps
}

func parseSilenceBoundaries(stderr string) []float64 {
	matches := silencePattern.FindAllStringSubmatch(stderr, -1)
	boundaries := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		boundaries = append(boundaries, v)
	}
	return boundaries
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
