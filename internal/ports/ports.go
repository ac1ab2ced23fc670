package ports

import (
	"context"
	"time"

	"github.com/forPelevin/hlreel/internal/types"
)

// CutOptions shapes a single rendered segment.
type CutOptions struct {
	Fade     time.Duration
	Vertical bool
	BurnASS  string
	HasAudio bool
}

type VideoTool interface {
	Probe(ctx context.Context, path string) (types.SourceVideo, error)
	MotionSignal(ctx context.Context, src types.SourceVideo) ([]types.SignalPoint, error)
	AudioSignal(ctx context.Context, src types.SourceVideo) ([]types.SignalPoint, error)
	ExtractFrame(ctx context.Context, path string, at time.Duration) ([]byte, error)
	CutSegment(ctx context.Context, inPath string, w types.TimeWindow, opts CutOptions, outPath string) error
	Concat(ctx context.Context, parts []string, outPath string) error
	MixMusic(ctx context.Context, inPath, musicPath string, hasAudio bool, outPath string) error
	Thumbnail(ctx context.Context, inPath string, at time.Duration, outPath string) error
}

// ScoreRequest is one sampled moment sent to the vision model.
type ScoreRequest struct {
	Frames       [][]byte
	Window       types.TimeWindow
	Target       string
	Instructions string
	Kind         types.HighlightType
}

type Judgement struct {
	Relevance float64
	Rationale string
	Caption   string
}

type Vision interface {
	DescribeExample(ctx context.Context, frames [][]byte, hint string) (string, error)
	ScoreSample(ctx context.Context, req ScoreRequest) (Judgement, error)
}

// MediaStore resolves source handles and publishes finished artifacts.
type MediaStore interface {
	Fetch(ctx context.Context, mediaID string) (string, error)
	Store(ctx context.Context, jobID, name, localPath string) (string, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, job types.Job) error
	GetJob(ctx context.Context, id string) (types.Job, error)
	ListJobs(ctx context.Context, limit int) ([]types.Job, error)
	SetStatus(ctx context.Context, id string, status types.Status) error
	SetProgress(ctx context.Context, id string, p types.Progress) error
	SaveResult(ctx context.Context, id string, res types.Result) error
	MarkInterrupted(ctx context.Context) (int, error)
	DeleteFinishedBefore(ctx context.Context, before time.Time) ([]string, error)
}
