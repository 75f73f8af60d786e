package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestLocalClientFailedPutLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	local, err := NewLocalClient(dir)
	if err != nil {
		t.Fatalf("new local client: %v", err)
	}

	r := io.MultiReader(strings.NewReader("partial"), failingReader{})
	if err := local.Put(context.Background(), "a.mp3", r, -1, "audio/mpeg"); err == nil {
		t.Fatalf("expected put to fail")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("failed put left %d entries", len(entries))
	}
}

func TestLocalClientRejectsPathKeys(t *testing.T) {
	local, err := NewLocalClient(t.TempDir())
	if err != nil {
		t.Fatalf("new local client: %v", err)
	}
	for _, key := range []string{"", "../x.mp3", "nested/x.mp3"} {
		if _, err := local.Get(context.Background(), key); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}
