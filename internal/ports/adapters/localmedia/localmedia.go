package localmedia

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store resolves media ids to files under MediaRoot and publishes job
// artifacts under OutRoot/<job id>/.
type Store struct {
	MediaRoot string
	OutRoot   string
	// PublicURL, when set, prefixes published artifacts instead of file:// URLs.
	PublicURL string
}

func New(mediaRoot, outRoot, publicURL string) *Store {
	return &Store{MediaRoot: mediaRoot, OutRoot: outRoot, PublicURL: strings.TrimRight(publicURL, "/")}
}

// Fetch accepts a path relative to MediaRoot. An absolute id is allowed
// only when MediaRoot is empty, which is how the CLI passes a local file.
func (s *Store) Fetch(ctx context.Context, mediaID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := s.resolve(mediaID)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("stat media: %w", err)
	}
	if !st.Mode().IsRegular() {
		return "", fmt.Errorf("media %q is not a regular file", mediaID)
	}
	return p, nil
}

func (s *Store) resolve(mediaID string) (string, error) {
	id := strings.TrimSpace(mediaID)
	if id == "" {
		return "", errors.New("media id is empty")
	}
	if s.MediaRoot == "" {
		return filepath.Clean(id), nil
	}
	if filepath.IsAbs(id) {
		return "", fmt.Errorf("media id %q must be relative", mediaID)
	}
	rel := filepath.Clean(id)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("media id %q escapes the media root", mediaID)
	}
	return filepath.Join(s.MediaRoot, rel), nil
}

// Store copies localPath to OutRoot/<jobID>/<name> and returns its URL.
func (s *Store) Store(ctx context.Context, jobID, name, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkSegment(jobID); err != nil {
		return "", err
	}
	if err := checkSegment(name); err != nil {
		return "", err
	}
	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name)
	if err := copyFile(localPath, dst); err != nil {
		return "", fmt.Errorf("copy %s: %w", name, err)
	}

	if s.PublicURL != "" {
		return s.PublicURL + "/" + path.Join(url.PathEscape(jobID), url.PathEscape(name)), nil
	}
	abs, err := filepath.Abs(dst)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.OutRoot, jobID)
}

// RemoveJob deletes a job's published artifacts.
func (s *Store) RemoveJob(jobID string) error {
	if err := checkSegment(jobID); err != nil {
		return err
	}
	return os.RemoveAll(s.JobDir(jobID))
}

func checkSegment(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("invalid path segment %q", s)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
