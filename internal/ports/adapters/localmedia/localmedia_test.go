package localmedia

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFetch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "matches"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "matches", "final.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(root, t.TempDir(), "")

	got, err := s.Fetch(context.Background(), "matches/final.mp4")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != filepath.Join(root, "matches", "final.mp4") {
		t.Fatalf("got %q", got)
	}

	for _, id := range []string{"", "../etc/passwd", "/etc/passwd", "matches", "missing.mp4"} {
		if _, err := s.Fetch(context.Background(), id); err == nil {
			t.Fatalf("Fetch(%q): expected error", id)
		}
	}
}

func TestFetch_NoRootTakesPaths(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "in.mp4")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New("", t.TempDir(), "")
	got, err := s.Fetch(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("got %q, want %q", got, p)
	}
}

func TestStore(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "reel.mp4")
	if err := os.WriteFile(src, []byte("reel"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()

	s := New("", out, "")
	u, err := s.Store(context.Background(), "job-1", "highlight.mp4", src)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !strings.HasPrefix(u, "file://") || !strings.HasSuffix(u, "/job-1/highlight.mp4") {
		t.Fatalf("url = %q", u)
	}
	b, err := os.ReadFile(filepath.Join(out, "job-1", "highlight.mp4"))
	if err != nil || string(b) != "reel" {
		t.Fatalf("stored file = %q, %v", b, err)
	}

	s = New("", out, "https://cdn.example.com/reels/")
	u, err = s.Store(context.Background(), "job-1", "thumbnail.jpg", src)
	if err != nil {
		t.Fatal(err)
	}
	if u != "https://cdn.example.com/reels/job-1/thumbnail.jpg" {
		t.Fatalf("url = %q", u)
	}

	if _, err := s.Store(context.Background(), "../x", "a.mp4", src); err == nil {
		t.Fatal("expected invalid job id error")
	}

	if err := s.RemoveJob("job-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(out, "job-1")); !os.IsNotExist(err) {
		t.Fatalf("job dir still present: %v", err)
	}
}
