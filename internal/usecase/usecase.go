package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/hlreel/internal/domain/highlights"
	"github.com/forPelevin/hlreel/internal/logging"
	"github.com/forPelevin/hlreel/internal/ports"
	"github.com/forPelevin/hlreel/internal/types"
)

type Deps struct {
	Video  ports.VideoTool
	Vision ports.Vision
	Media  ports.MediaStore
	Log    zerolog.Logger
}

type Usecase struct {
	d Deps
	t highlights.Tuning
}

func New(d Deps, t highlights.Tuning) Usecase { return Usecase{d: d, t: t} }

type Input struct {
	JobID   string
	Request types.Request
	// WorkDir holds per-job scratch files; it is removed when Run returns.
	WorkDir string
	// MusicPath is the bed mixed in for include_music; empty disables it.
	MusicPath  string
	OnProgress func(types.Progress)
}

// jobState is threaded through the stages. Only the goroutine running Run
// writes to it.
type jobState struct {
	in     Input
	params types.Params
	log    zerolog.Logger

	src        types.SourceVideo
	target     types.MatchTarget
	windowSize time.Duration
	scores     []types.TechnicalScore

	samples  []types.SampleScore
	calls    int
	fallback bool
	plan     types.SelectionPlan

	artifactURL  string
	thumbnailURL string
	diag         types.Diagnostics
}

func (st *jobState) progress(stage string, pct float64, msg string) {
	if st.in.OnProgress != nil {
		st.in.OnProgress(types.Progress{Stage: stage, Percent: pct, Message: msg})
	}
}

func (st *jobState) warn(msg string) {
	st.diag.Warnings = append(st.diag.Warnings, msg)
	st.log.Warn().Msg(msg)
}

// Run executes one highlight job end to end. It always returns a Result;
// the error is non-nil for every non-succeeded status.
func (u Usecase) Run(ctx context.Context, in Input) (types.Result, error) {
	st := &jobState{in: in, log: logging.WithJobID(u.d.Log, in.JobID)}
	if in.WorkDir != "" {
		defer func() { _ = os.RemoveAll(in.WorkDir) }()
	}
	err := u.run(ctx, st)
	return u.result(st, err), err
}

func (u Usecase) run(ctx context.Context, st *jobState) error {
	started := time.Now()

	p, err := st.in.Request.Normalize()
	if err != nil {
		return err
	}
	st.params = p

	st.progress("probe", 0, "")
	if err := u.probe(ctx, st); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	st.progress("prefilter", 5, "")
	u.prefilter(ctx, st)
	if err := ctx.Err(); err != nil {
		return err
	}

	st.progress("target", 20, "")
	if err := u.resolveTarget(ctx, st); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := u.sample(ctx, st); err != nil {
		return err
	}

	st.progress("assemble", 85, "")
	u.assemble(st)
	if err := ctx.Err(); err != nil {
		return err
	}

	st.progress("render", 88, "")
	if err := u.render(ctx, st); err != nil {
		return err
	}
	st.progress("done", 100, "")
	st.log.Info().
		Dur("elapsed", time.Since(started)).
		Int("segments", len(st.plan.Segments)).
		Float64("selected_seconds", st.plan.Total.Seconds()).
		Int("ai_calls", st.calls).
		Bool("fallback", st.fallback).
		Msg("highlight job finished")
	return nil
}

func (u Usecase) probe(ctx context.Context, st *jobState) error {
	path, err := u.d.Media.Fetch(ctx, st.params.MediaID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: fetch %s: %v", types.ErrMediaUnreadable, st.params.MediaID, err)
	}
	src, err := u.d.Video.Probe(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, types.ErrMediaUnreadable) {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrMediaUnreadable, err)
	}
	if src.Duration <= 0 {
		return fmt.Errorf("%w: zero duration", types.ErrMediaUnreadable)
	}
	src.MediaID = st.params.MediaID
	src.Path = path
	st.src = src

	st.log.Info().
		Str("media_id", src.MediaID).
		Float64("duration_s", src.Duration.Seconds()).
		Float64("fps", src.FPS).
		Int("width", src.Width).
		Int("height", src.Height).
		Bool("has_audio", src.HasAudio).
		Msg("source probed")
	return st.params.CheckBounds(src)
}

// prefilter never fails: a missing signal counts as zero.
func (u Usecase) prefilter(ctx context.Context, st *jobState) {
	st.windowSize = highlights.WindowSize(st.src.Duration, u.t)
	windows := highlights.BuildWindows(st.src.Duration, st.windowSize)

	var sig types.Signals
	motion, err := u.d.Video.MotionSignal(ctx, st.src)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		st.warn(fmt.Sprintf("motion analysis failed, treating motion as zero: %v", err))
	}
	sig.Motion = motion

	if st.src.HasAudio {
		audio, err := u.d.Video.AudioSignal(ctx, st.src)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			st.warn(fmt.Sprintf("audio analysis failed, treating audio as zero: %v", err))
		}
		sig.Audio = audio
	} else {
		st.log.Warn().Msg("source has no audio stream, audio score is zero")
	}

	st.scores = highlights.ScoreWindows(windows, sig, u.t)
	st.diag.WindowSizeSeconds = st.windowSize.Seconds()
	st.diag.WindowCount = len(windows)
	st.log.Info().
		Int("windows", len(windows)).
		Dur("window_size", st.windowSize).
		Int("motion_points", len(sig.Motion)).
		Int("audio_points", len(sig.Audio)).
		Msg("technical pre-filter done")
}

func (u Usecase) assemble(st *jobState) {
	plan, rep := highlights.Assemble(highlights.AssembleInput{
		Samples: st.samples,
		Source:  st.src.Duration,
		Target:  st.params.Target,
		Padding: st.params.ContextPadding,
	}, u.t)

	st.diag.RelaxationApplied = rep.Relaxed
	st.diag.FinalThreshold = rep.Threshold
	shortfall := rep.Shortfall

	if len(plan.Segments) == 0 {
		plan = highlights.EvenPlan(st.src.Duration, st.params.Target)
		shortfall = 0
		if plan.Total < st.params.Target {
			shortfall = st.params.Target - plan.Total
		}
		if !st.fallback {
			st.fallback = true
			st.diag.FallbackReason = "no segment passed the minimum threshold"
		}
		st.warn("no scored segment qualified, using evenly spaced segments")
	}
	if rep.Relaxed {
		st.log.Info().Float64("threshold", rep.Threshold).Msg("threshold relaxed to reach target duration")
	}

	st.plan = plan
	st.diag.ShortfallSeconds = shortfall.Seconds()
	st.diag.UnusedScore = plan.UnusedScore
	st.diag.SelectedSeconds = plan.Total.Seconds()
	st.log.Info().
		Int("candidates", rep.Candidates).
		Int("selected", len(plan.Segments)).
		Float64("selected_seconds", plan.Total.Seconds()).
		Float64("shortfall_seconds", shortfall.Seconds()).
		Msg("segments assembled")
}

func (u Usecase) result(st *jobState, err error) types.Result {
	res := types.Result{
		JobID:            st.in.JobID,
		Status:           types.StatusFor(err),
		ArtifactURL:      st.artifactURL,
		ThumbnailURL:     st.thumbnailURL,
		SelectedSegments: st.plan.Wire(),
		AICallsUsed:      st.calls,
		EstimatedCost:    highlights.EstimateCost(st.calls, u.t),
		FallbackUsed:     st.fallback,
		Diagnostics:      st.diag,
	}
	if st.target != nil {
		res.Diagnostics.MatchTargetSource = st.target.Source()
	}
	if err != nil {
		res.Error = &types.ResultError{Code: types.ErrorCode(err), Message: err.Error()}
		st.log.Warn().Err(err).Str("status", string(res.Status)).Msg("highlight job did not succeed")
	}
	return res
}

func writeFile(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
