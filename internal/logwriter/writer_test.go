package logwriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sysg-dev/sysg/internal/config"
)

func TestWriterFlushesCompleteLines(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, "web", "stdout", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := w.Write([]byte("hello\nwor")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("ld\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "logs", "web_stdout.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "hello\nworld\n"
	if string(got) != want {
		t.Fatalf("log contents = %q, want %q", got, want)
	}
}

func TestWriterFlushesTrailingPartialLineOnClose(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, "web", "stdout", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := w.Write([]byte("no newline yet")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "logs", "web_stdout.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "no newline yet\n" {
		t.Fatalf("log contents = %q", got)
	}
}

func TestWriterAppliesRedaction(t *testing.T) {
	dir := t.TempDir()
	redactor, err := NewRedactor([]config.RedactPattern{
		{Pattern: `password=\S+`, Replacement: "password=***"},
	})
	if err != nil {
		t.Fatalf("NewRedactor: %v", err)
	}

	w, err := New(dir, "api", "stdout", redactor, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := w.Write([]byte("login password=hunter2\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "logs", "api_stdout.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "login password=***\n" {
		t.Fatalf("log contents = %q", got)
	}
}
