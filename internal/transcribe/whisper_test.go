package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeStub installs an executable shell script standing in for the whisper
// binary and returns its path.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whisper")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("failed to write stub: %v", err)
	}
	return path
}

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment-0.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0644); err != nil {
		t.Fatalf("failed to write clip: %v", err)
	}
	return path
}

func TestNewWhisperCLIMissingBinary(t *testing.T) {
	if _, err := NewWhisperCLI(filepath.Join(t.TempDir(), "nope"), "small", time.Second, nil); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestTranscribeSuccess(t *testing.T) {
	// The real tool writes <audio base>.txt into --output_dir.
	stub := writeStub(t, `printf '  hello world\n' > "${1%.*}.txt"`)
	w, err := NewWhisperCLI(stub, "small", 10*time.Second, nil)
	if err != nil {
		t.Fatalf("NewWhisperCLI() error = %v", err)
	}

	clip := writeClip(t)
	text, err := w.Transcribe(context.Background(), clip)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q, want trimmed transcript", text)
	}

	// Transcript file is cleaned up after reading.
	txtPath := clip[:len(clip)-len(".wav")] + ".txt"
	if _, err := os.Stat(txtPath); !os.IsNotExist(err) {
		t.Errorf("transcript file not removed: %v", err)
	}
}

func TestTranscribeMissingInput(t *testing.T) {
	stub := writeStub(t, "exit 0")
	w, err := NewWhisperCLI(stub, "small", time.Second, nil)
	if err != nil {
		t.Fatalf("NewWhisperCLI() error = %v", err)
	}

	_, err = w.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T", err)
	}
	if terr.IsRetryable() {
		t.Error("missing input should be permanent")
	}
}

func TestTranscribeToolRejection(t *testing.T) {
	stub := writeStub(t, `echo "unsupported codec" >&2; exit 1`)
	w, err := NewWhisperCLI(stub, "small", 10*time.Second, nil)
	if err != nil {
		t.Fatalf("NewWhisperCLI() error = %v", err)
	}

	_, err = w.Transcribe(context.Background(), writeClip(t))
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T", err)
	}
	if terr.IsRetryable() {
		t.Error("tool rejection should be permanent")
	}
}

func TestTranscribeTimeout(t *testing.T) {
	stub := writeStub(t, "exec sleep 5")
	w, err := NewWhisperCLI(stub, "small", 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWhisperCLI() error = %v", err)
	}

	_, err = w.Transcribe(context.Background(), writeClip(t))
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T", err)
	}
	if !terr.IsRetryable() {
		t.Error("timeout should be transient")
	}
}

func TestTranscribeMissingOutput(t *testing.T) {
	stub := writeStub(t, "exit 0")
	w, err := NewWhisperCLI(stub, "small", 10*time.Second, nil)
	if err != nil {
		t.Fatalf("NewWhisperCLI() error = %v", err)
	}

	_, err = w.Transcribe(context.Background(), writeClip(t))
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T", err)
	}
	if !terr.IsRetryable() {
		t.Error("missing transcript output should be transient")
	}
}

func TestTail(t *testing.T) {
	if got := tail("short", 10); got != "short" {
		t.Errorf("tail = %q", got)
	}
	long := "0123456789abcdef"
	if got := tail(long, 8); got != "...89abcdef" {
		t.Errorf("tail = %q", got)
	}
}
