package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/forPelevin/hlreel/internal/domain/highlights"
	"github.com/forPelevin/hlreel/internal/logging"
	"github.com/forPelevin/hlreel/internal/ports"
	"github.com/forPelevin/hlreel/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/hlreel/internal/ports/adapters/localmedia"
	"github.com/forPelevin/hlreel/internal/ports/adapters/openrouter"
	"github.com/forPelevin/hlreel/internal/ports/adapters/sqlstore"
	"github.com/forPelevin/hlreel/internal/types"
	"github.com/forPelevin/hlreel/internal/usecase"
)

type Config struct {
	// MediaRoot is where media ids are resolved. If empty, media ids are
	// local file paths.
	MediaRoot string
	// OutDir receives one directory of published artifacts per job.
	OutDir    string
	PublicURL string
	// CacheDir holds per-job scratch files. If empty, defaults to ".cache".
	CacheDir  string
	MusicPath string

	JobTimeout time.Duration
	TuningPath string

	FFmpegPath  string
	FFprobePath string

	OpenRouterAPIKey       string
	OpenRouterModel        string
	OpenRouterBaseURL      string
	OpenRouterAllowedHosts []string
	// AIRequestsPerSecond paces vision calls across all jobs of the process.
	AIRequestsPerSecond float64

	Log zerolog.Logger
}

func (c Config) Validate() error {
	if c.OutDir == "" {
		return errors.New("out dir is empty")
	}
	if c.MediaRoot != "" {
		st, err := os.Stat(c.MediaRoot)
		if err != nil {
			return fmt.Errorf("stat media root: %w", err)
		}
		if !st.IsDir() {
			return fmt.Errorf("media root %s is not a directory", c.MediaRoot)
		}
	}
	if c.MusicPath != "" {
		if _, err := os.Stat(c.MusicPath); err != nil {
			return fmt.Errorf("stat music: %w", err)
		}
	}
	if c.JobTimeout < 0 {
		return errors.New("job timeout must be >= 0")
	}
	if c.AIRequestsPerSecond < 0 {
		return errors.New("ai requests per second must be >= 0")
	}
	if c.OpenRouterAPIKey == "" {
		return errors.New("openrouter api key is required")
	}
	return openrouter.ValidateBaseURL(
		c.OpenRouterBaseURL,
		c.OpenRouterAllowedHosts,
	)
}

// Engine runs persisted highlight jobs. It is the executor behind both the
// in-process pool and the queue worker.
type Engine struct {
	cfg   Config
	uc    usecase.Usecase
	store ports.JobStore
	media *localmedia.Store
	log   zerolog.Logger
}

func New(cfg Config, store ports.JobStore) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tuning, err := LoadTuning(cfg.TuningPath)
	if err != nil {
		return nil, err
	}

	// adapters
	media := localmedia.New(cfg.MediaRoot, cfg.OutDir, cfg.PublicURL)
	v := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath, logging.WithComponent(cfg.Log, "ffmpeg"))
	vision := openrouter.New(cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.OpenRouterBaseURL,
		openrouter.WithRateLimit(cfg.AIRequestsPerSecond, tuning.BatchSize),
		openrouter.WithLogger(logging.WithComponent(cfg.Log, "openrouter")),
	)

	deps := usecase.Deps{
		Video:  v,
		Vision: vision,
		Media:  media,
		Log:    logging.WithComponent(cfg.Log, "usecase"),
	}
	return newEngine(cfg, store, deps, media, tuning), nil
}

func newEngine(cfg Config, store ports.JobStore, deps usecase.Deps, media *localmedia.Store, t highlights.Tuning) *Engine {
	if cfg.CacheDir == "" {
		cfg.CacheDir = ".cache"
	}
	return &Engine{
		cfg:   cfg,
		uc:    usecase.New(deps, t),
		store: store,
		media: media,
		log:   logging.WithComponent(cfg.Log, "engine"),
	}
}

// Media exposes the artifact store, used by the retention janitor.
func (e *Engine) Media() *localmedia.Store { return e.media }

// Execute runs a stored job and records its result. Jobs that already
// reached a terminal state are left alone.
func (e *Engine) Execute(ctx context.Context, jobID string) error {
	// bookkeeping must survive the job being cancelled
	persist := context.WithoutCancel(ctx)

	job, err := e.store.GetJob(persist, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() {
		e.log.Info().Str("job_id", jobID).Str("status", string(job.Status)).Msg("job already finished, skipping")
		return nil
	}
	if err := e.store.SetStatus(persist, jobID, types.StatusRunning); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	runCtx := ctx
	if e.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.JobTimeout)
		defer cancel()
	}

	res, runErr := e.uc.Run(runCtx, usecase.Input{
		JobID:     jobID,
		Request:   job.Request,
		WorkDir:   filepath.Join(e.cfg.CacheDir, "jobs", jobID),
		MusicPath: e.cfg.MusicPath,
		OnProgress: func(p types.Progress) {
			if err := e.store.SetProgress(persist, jobID, p); err != nil {
				e.log.Warn().Err(err).Str("job_id", jobID).Msg("save progress")
			}
		},
	})
	if err := e.store.SaveResult(persist, jobID, res); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	e.log.Info().
		Str("job_id", jobID).
		Str("status", string(res.Status)).
		AnErr("job_error", runErr).
		Msg("job recorded")
	return nil
}

// RunOnce creates a job for req, runs it in the foreground and writes
// result.json next to its artifacts. The returned error covers
// bookkeeping only; the job's own outcome is in the Result.
func (e *Engine) RunOnce(ctx context.Context, req types.Request) (types.Result, string, error) {
	now := time.Now().UTC()
	jobID := filepath.Base(buildRunOutDir("", req.MediaID, now))

	err := e.store.CreateJob(ctx, types.Job{
		ID:        jobID,
		MediaID:   req.MediaID,
		Status:    types.StatusQueued,
		Request:   req,
		CreatedAt: now,
	})
	if err != nil {
		return types.Result{}, "", err
	}
	e.log.Info().Str("job_id", jobID).Msg("job created")

	if err := e.Execute(ctx, jobID); err != nil {
		return types.Result{}, "", err
	}
	job, err := e.store.GetJob(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return types.Result{}, "", err
	}
	if job.Result == nil {
		return types.Result{}, "", fmt.Errorf("job %s has no result", jobID)
	}
	res := *job.Result

	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return res, "", fmt.Errorf("marshal result: %w", err)
	}
	dir := e.media.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, "", err
	}
	resultPath := filepath.Join(dir, "result.json")
	if err := os.WriteFile(resultPath, b, 0o644); err != nil {
		return res, "", err
	}
	e.log.Info().Str("path", resultPath).Int("segments", len(res.SelectedSegments)).Msg("result written")
	return res, resultPath, nil
}

// OpenStore opens the job store named by dsn; see sqlstore.Open.
func OpenStore(dsn string, log zerolog.Logger) (*sqlstore.Store, error) {
	return sqlstore.Open(dsn, logging.WithComponent(log, "store"))
}

func buildRunOutDir(outRoot, input string, now time.Time) string {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	name = normalizePathSegment(name)
	if name == "" {
		name = "input"
	}
	ts := now.UTC().Format("20060102-150405Z")
	runSeed := fmt.Sprintf("%s|%d", input, now.UTC().UnixNano())
	suffix := hash(runSeed)[:6]
	return filepath.Join(outRoot, fmt.Sprintf("%s-%s-%s", name, ts, suffix))
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure adapters implement ports
var _ ports.VideoTool = (*ffmpeg.Adapter)(nil)
var _ ports.Vision = (*openrouter.Adapter)(nil)
var _ ports.MediaStore = (*localmedia.Store)(nil)
var _ ports.JobStore = (*sqlstore.Store)(nil)
