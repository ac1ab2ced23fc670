package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/hlreel/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "jobs.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testJob(id string, created time.Time) types.Job {
	prompt := "goals"
	return types.Job{
		ID:        id,
		MediaID:   "match.mp4",
		Request:   types.Request{MediaID: "match.mp4", Duration: 30, Prompt: &prompt},
		CreatedAt: created,
	}
}

func TestParseDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dsn, driver, source string
	}{
		{"data/jobs.db", driverSQLite, "data/jobs.db"},
		{"sqlite:///var/lib/hlreel/jobs.db", driverSQLite, "/var/lib/hlreel/jobs.db"},
		{"postgres://u:p@db:5432/hl?sslmode=disable", driverPostgres, "postgres://u:p@db:5432/hl?sslmode=disable"},
		{"postgresql://db/hl", driverPostgres, "postgresql://db/hl"},
	}
	for _, tt := range tests {
		driver, source := parseDSN(tt.dsn)
		if driver != tt.driver || source != tt.source {
			t.Fatalf("parseDSN(%q) = %q, %q; want %q, %q", tt.dsn, driver, source, tt.driver, tt.source)
		}
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	q := `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`
	if got := rebind(driverSQLite, q); got != q {
		t.Fatalf("sqlite query changed: %q", got)
	}
	want := `UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`
	if got := rebind(driverPostgres, q); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestOpen_EmptyDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open("  ", zerolog.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.CreateJob(ctx, testJob("a", created)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	got, err := s.GetJob(ctx, "a")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != types.StatusQueued {
		t.Fatalf("status = %q, want queued", got.Status)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(created) {
		t.Fatalf("times = %v/%v, want %v", got.CreatedAt, got.UpdatedAt, created)
	}
	if got.Request.Prompt == nil || *got.Request.Prompt != "goals" || got.Request.Duration != 30 {
		t.Fatalf("request did not round trip: %+v", got.Request)
	}
	if got.Result != nil {
		t.Fatalf("unexpected result: %+v", got.Result)
	}

	if err := s.CreateJob(ctx, testJob("a", created)); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.GetJob(context.Background(), "nope")
	if !errors.Is(err, types.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
	if err := s.SetStatus(context.Background(), "nope", types.StatusRunning); !errors.Is(err, types.ErrJobNotFound) {
		t.Fatalf("SetStatus err = %v, want ErrJobNotFound", err)
	}
}

func TestStore_ProgressAndResult(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateJob(ctx, testJob("a", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus(ctx, "a", types.StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := s.SetProgress(ctx, "a", types.Progress{Stage: "sampling", Percent: 42, Message: "3/8 samples"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetJob(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusRunning || got.Progress.Stage != "sampling" || got.Progress.Percent != 42 {
		t.Fatalf("got %+v", got)
	}

	res := types.Result{
		JobID:            "a",
		Status:           types.StatusSucceeded,
		ArtifactURL:      "file:///tmp/a/highlight.mp4",
		SelectedSegments: []types.SegmentOut{{Start: 38, End: 55, Score: 0.91}},
		AICallsUsed:      6,
	}
	if err := s.SaveResult(ctx, "a", res); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetJob(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusSucceeded {
		t.Fatalf("status = %q, want succeeded", got.Status)
	}
	if got.Result == nil || got.Result.AICallsUsed != 6 || len(got.Result.SelectedSegments) != 1 {
		t.Fatalf("result = %+v", got.Result)
	}
}

func TestStore_SaveResultKeepsFinishedJobs(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateJob(ctx, testJob("a", time.Now())); err != nil {
		t.Fatal(err)
	}
	done := types.Result{JobID: "a", Status: types.StatusSucceeded, ArtifactURL: "file:///out/a/highlight.mp4"}
	if err := s.SaveResult(ctx, "a", done); err != nil {
		t.Fatal(err)
	}

	late := types.Result{JobID: "a", Status: types.StatusCancelled, Error: &types.ResultError{Code: "cancelled"}}
	if err := s.SaveResult(ctx, "a", late); !errors.Is(err, types.ErrJobFinished) {
		t.Fatalf("err = %v, want ErrJobFinished", err)
	}
	got, err := s.GetJob(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusSucceeded || got.Result == nil || got.Result.ArtifactURL != done.ArtifactURL {
		t.Fatalf("finished job changed: %+v", got)
	}

	if err := s.SaveResult(ctx, "missing", late); !errors.Is(err, types.ErrJobNotFound) {
		t.Fatalf("missing job err = %v, want ErrJobNotFound", err)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if err := s.CreateJob(ctx, testJob(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}
	jobs, err := s.ListJobs(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].ID != "new" || jobs[1].ID != "mid" {
		t.Fatalf("got %+v", jobs)
	}
}

func TestStore_MarkInterrupted(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"queued", "running", "done"} {
		if err := s.CreateJob(ctx, testJob(id, time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetStatus(ctx, "running", types.StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveResult(ctx, "done", types.Result{JobID: "done", Status: types.StatusSucceeded}); err != nil {
		t.Fatal(err)
	}

	n, err := s.MarkInterrupted(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("marked %d, want 2", n)
	}
	for _, id := range []string{"queued", "running"} {
		j, err := s.GetJob(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if j.Status != types.StatusFailed || j.Result == nil || j.Result.Error == nil {
			t.Fatalf("%s: %+v", id, j)
		}
	}
	j, _ := s.GetJob(ctx, "done")
	if j.Status != types.StatusSucceeded {
		t.Fatalf("finished job touched: %q", j.Status)
	}
}

func TestStore_DeleteFinishedBefore(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"finished", "active"} {
		if err := s.CreateJob(ctx, testJob(id, time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SaveResult(ctx, "finished", types.Result{JobID: "finished", Status: types.StatusFailed}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus(ctx, "active", types.StatusRunning); err != nil {
		t.Fatal(err)
	}

	ids, err := s.DeleteFinishedBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("deleted %v before cutoff", ids)
	}

	ids, err = s.DeleteFinishedBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "finished" {
		t.Fatalf("deleted %v, want [finished]", ids)
	}
	if _, err := s.GetJob(ctx, "finished"); !errors.Is(err, types.ErrJobNotFound) {
		t.Fatalf("finished job still present: %v", err)
	}
	if _, err := s.GetJob(ctx, "active"); err != nil {
		t.Fatalf("active job removed: %v", err)
	}
}
