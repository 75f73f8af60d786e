package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// id3Header is enough of an MP3 file for content sniffing.
var id3Header = append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0}, 64)...)

func newAssetStore(t *testing.T) (*AssetStore, string) {
	t.Helper()
	dir := t.TempDir()
	local, err := NewLocalClient(dir)
	if err != nil {
		t.Fatalf("new local client: %v", err)
	}
	assets := NewAssetStore(local, AudioTypes...)
	assets.newKey = func() string { return "fixed" }
	return assets, dir
}

func TestAssetStoreStoresAudio(t *testing.T) {
	assets, dir := newAssetStore(t)

	ref, err := assets.Store(context.Background(), Upload{
		Filename:    "song.mp3",
		ContentType: "audio/mpeg",
		Size:        int64(len(id3Header)),
		Body:        bytes.NewReader(id3Header),
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if ref != "/uploads/fixed.mp3" {
		t.Fatalf("unexpected ref %q", ref)
	}
	data, err := os.ReadFile(filepath.Join(dir, "fixed.mp3"))
	if err != nil {
		t.Fatalf("read stored object: %v", err)
	}
	if !bytes.Equal(data, id3Header) {
		t.Fatalf("stored bytes differ from upload")
	}
}

func TestAssetStoreSniffsUndeclaredAudio(t *testing.T) {
	assets, _ := newAssetStore(t)
	ref, err := assets.Store(context.Background(), Upload{
		Filename:    "song.bin",
		ContentType: "application/octet-stream",
		Body:        bytes.NewReader(id3Header),
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !strings.HasSuffix(ref, ".mp3") {
		t.Fatalf("expected mp3 key, got %q", ref)
	}
}

func TestAssetStoreRejectsOtherTypes(t *testing.T) {
	assets, dir := newAssetStore(t)
	_, err := assets.Store(context.Background(), Upload{
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Body:        strings.NewReader("hello world"),
	})
	if !errors.Is(err, ErrRejectedType) {
		t.Fatalf("expected ErrRejectedType, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("rejected upload left %d files behind", len(entries))
	}
}

func TestAssetStoreReleaseAndOpen(t *testing.T) {
	assets, _ := newAssetStore(t)
	ctx := context.Background()

	ref, err := assets.Store(ctx, Upload{ContentType: "audio/mpeg", Body: bytes.NewReader(id3Header)})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	key, err := KeyFromRef(ref)
	if err != nil {
		t.Fatalf("key from ref: %v", err)
	}

	rc, err := assets.Open(ctx, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if len(data) != len(id3Header) {
		t.Fatalf("read %d bytes, want %d", len(data), len(id3Header))
	}

	if err := assets.Release(ctx, ref); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := assets.Open(ctx, key); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound after release, got %v", err)
	}
	if err := assets.Release(ctx, ref); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
}

func TestKeyFromRef(t *testing.T) {
	for ref, ok := range map[string]bool{
		"/uploads/abc.mp3":        true,
		"/uploads/":               false,
		"/uploads/../secret.json": false,
		"https://example.com/a":   false,
	} {
		_, err := KeyFromRef(ref)
		if (err == nil) != ok {
			t.Fatalf("KeyFromRef(%q) err=%v, want ok=%v", ref, err, ok)
		}
	}
}
