package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store creation failed: %v", err)
	}
	ctx := context.Background()

	if store.Has(ctx, "b1-abc") {
		t.Fatalf("empty store claims to have a blob")
	}

	n, err := store.Write(ctx, "b1-abc", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n != int64(len("payload")) {
		t.Fatalf("wrote %d bytes, want %d", n, len("payload"))
	}

	if !store.Has(ctx, "b1-abc") {
		t.Fatalf("written blob not reported")
	}

	rc, err := store.Open(ctx, "b1-abc")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "payload" {
		t.Fatalf("read back %q", data)
	}
}

func TestFileStoreRejectsUnsafeIDs(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store creation failed: %v", err)
	}
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "a/b", `a\b`, "a..b"} {
		if _, err := store.Write(ctx, id, strings.NewReader("x")); err == nil {
			t.Fatalf("Write accepted unsafe id %q", id)
		}
		if _, err := store.Open(ctx, id); err == nil {
			t.Fatalf("Open accepted unsafe id %q", id)
		}
		if store.Has(ctx, id) {
			t.Fatalf("Has accepted unsafe id %q", id)
		}
	}
}

func TestFileStoreLeavesNoPartialFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("store creation failed: %v", err)
	}

	// A reader that fails mid-copy must not leave a visible blob.
	failing := io.MultiReader(strings.NewReader("partial"), &errReader{})
	if _, err := store.Write(context.Background(), "b1-abc", failing); err == nil {
		t.Fatalf("expected write failure")
	}

	if store.Has(context.Background(), "b1-abc") {
		t.Fatalf("failed write left a visible blob")
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".partial-") {
			t.Fatalf("temp file left behind: %s", filepath.Join(dir, e.Name()))
		}
	}
}

type errReader struct{}

func (e *errReader) Read(p []byte) (int, error) { return 0, io.ErrUnexpectedEOF }
