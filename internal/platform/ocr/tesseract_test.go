package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// fakeTesseract writes a shell script that behaves like the CLI: it echoes
// its arguments and stdin back.
func fakeTesseract(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "tesseract")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake tesseract: %v", err)
	}
	return path
}

func TestTesseract_Recognize(t *testing.T) {
	bin := fakeTesseract(t, `echo "args: $*"; cat`)
	got, err := NewTesseract(bin).Recognize(context.Background(), []byte("DELA CRUZ, JUAN"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "args: stdin stdout -l eng") {
		t.Errorf("unexpected arguments in %q", got)
	}
	if !strings.Contains(got, "DELA CRUZ, JUAN") {
		t.Errorf("expected stdin to be passed through, got %q", got)
	}
}

func TestTesseract_Failure(t *testing.T) {
	bin := fakeTesseract(t, `echo "Error in pixReadStream" >&2; exit 1`)
	_, err := NewTesseract(bin).Recognize(context.Background(), []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "pixReadStream") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestTesseract_EmptyImage(t *testing.T) {
	_, err := NewTesseract("").Recognize(context.Background(), nil)
	if !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
}

func TestNewTesseract_DefaultPath(t *testing.T) {
	if p := NewTesseract("").Path; p != "tesseract" {
		t.Errorf("expected default path tesseract, got %s", p)
	}
}
