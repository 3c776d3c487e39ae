package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeMediaStub installs an executable shell script under dir and returns
// its path.
func writeMediaStub(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("failed to write %s stub: %v", name, err)
	}
	return path
}

// ffmpegStub imitates the two invocations the analyzer makes: silencedetect
// (last arg "-") and keyframe extraction (last arg an output pattern). The
// keyframe branch writes the input path into the first frame file so tests
// can tell which video produced a given frame.
const ffmpegStub = `in=""
last=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
  last="$a"
done
if [ "$last" = "-" ]; then
  echo "[silencedetect @ 0x0] silence_start: 12.5" >&2
  exit 0
fi
out=$(printf "$last" 1)
printf '%s' "$in" > "$out"
echo "[Parsed_showinfo_1 @ 0x0] n:0 pts:135135 pts_time:1.5" >&2
`

func newStubAnalyzer(t *testing.T, workDir string) *FFmpegAnalyzer {
	t.Helper()
	binDir := t.TempDir()
	ffmpegPath := writeMediaStub(t, binDir, "ffmpeg", ffmpegStub)
	ffprobePath := writeMediaStub(t, binDir, "ffprobe", `printf '{"format":{"duration":"30.000000"}}'`)

	ff, err := NewFFmpeg(ffmpegPath, ffprobePath, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewFFmpeg() error = %v", err)
	}
	return NewAnalyzer(ff, Config{
		WorkDir:          workDir,
		KeyframeInterval: 1,
		SceneThreshold:   0.3,
		MinSegmentSec:    5,
		MaxSegmentSec:    60,
		SilenceNoise:     "-30dB",
		SilenceDuration:  0.5,
	}, nil)
}

func writeVideoFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(name), 0644); err != nil {
		t.Fatalf("failed to write video file: %v", err)
	}
	return path
}

func keyframePaths(a *Analysis) []string {
	var paths []string
	for _, seg := range a.Segments {
		for _, kf := range seg.Keyframes {
			paths = append(paths, kf.Path)
		}
	}
	return paths
}

func TestAnalyzeKeyframesKeyedByVideo(t *testing.T) {
	workDir := t.TempDir()
	analyzer := newStubAnalyzer(t, workDir)
	srcDir := t.TempDir()
	videoA := writeVideoFile(t, srcDir, "a.mp4")
	videoB := writeVideoFile(t, srcDir, "b.mp4")
	ctx := context.Background()

	resA, err := analyzer.Analyze(ctx, "vid-a", videoA, nil)
	if err != nil {
		t.Fatalf("Analyze(vid-a) error = %v", err)
	}
	resB, err := analyzer.Analyze(ctx, "vid-b", videoB, nil)
	if err != nil {
		t.Fatalf("Analyze(vid-b) error = %v", err)
	}

	pathsA := keyframePaths(resA)
	if len(pathsA) == 0 {
		t.Fatal("no keyframes assigned for vid-a")
	}
	for _, p := range pathsA {
		if !strings.HasPrefix(p, filepath.Join(workDir, "vid-a")+string(filepath.Separator)) {
			t.Errorf("vid-a keyframe %q outside its own work dir", p)
		}
	}
	for _, p := range keyframePaths(resB) {
		if !strings.HasPrefix(p, filepath.Join(workDir, "vid-b")+string(filepath.Separator)) {
			t.Errorf("vid-b keyframe %q outside its own work dir", p)
		}
	}

	// The second run must not replace the first run's frame files.
	data, err := os.ReadFile(pathsA[0])
	if err != nil {
		t.Fatalf("vid-a keyframe unreadable after second run: %v", err)
	}
	if got := string(data); got != videoA {
		t.Errorf("vid-a keyframe content = %q, want %q", got, videoA)
	}
}

func TestAnalyzeMissingFile(t *testing.T) {
	analyzer := newStubAnalyzer(t, t.TempDir())
	_, err := analyzer.Analyze(context.Background(), "vid-x", filepath.Join(t.TempDir(), "gone.mp4"), nil)
	var structural *StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("Analyze() error = %v, want StructuralError", err)
	}
}
