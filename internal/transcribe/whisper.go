// Package transcribe converts segment audio into text using the whisper CLI.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Transcriber converts one audio clip into text. Stateless per call.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Error is a typed transcription failure. Retryable errors are transient
// (tool crash, timeout); non-retryable ones are permanent for the segment
// (malformed input).
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcribe %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) IsRetryable() bool { return e.Retryable }

// WhisperCLI runs the whisper command line tool as a subprocess.
type WhisperCLI struct {
	binary  string
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func NewWhisperCLI(binaryPath, model string, timeout time.Duration, logger *slog.Logger) (*WhisperCLI, error) {
	name := binaryPath
	if name == "" {
		name = "whisper"
	}
	resolved, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("whisper binary %q not found: %w", name, err)
	}
	return &WhisperCLI{binary: resolved, model: model, timeout: timeout, logger: logger}, nil
}

func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return "", &Error{Op: "input", Err: err, Retryable: false}
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	outDir := filepath.Dir(audioPath)
	cmd := exec.CommandContext(ctx, w.binary,
		audioPath,
		"--model", w.model,
		"--output_format", "txt",
		"--output_dir", outDir,
		"--fp16", "False",
		"--verbose", "False",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		retryable := true
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			// The tool ran and rejected the input; retrying the same clip
			// will not help.
			retryable = false
		}
		return "", &Error{
			Op:        "run",
			Err:       fmt.Errorf("%w: %s", err, tail(stderr.String(), 256)),
			Retryable: retryable,
		}
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	txtPath := filepath.Join(outDir, base+".txt")
	data, err := os.ReadFile(txtPath)
	if err != nil {
		return "", &Error{Op: "output", Err: err, Retryable: true}
	}
	defer os.Remove(txtPath)

	text := strings.TrimSpace(string(data))
	if w.logger != nil {
		w.logger.Debug("transcription complete",
			"audio", filepath.Base(audioPath),
			"chars", len(text),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return text, nil
}

func tail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}
