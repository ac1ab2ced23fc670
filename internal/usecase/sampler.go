package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/forPelevin/hlreel/internal/domain/highlights"
	"github.com/forPelevin/hlreel/internal/ports"
	"github.com/forPelevin/hlreel/internal/types"
)

type sampleResult struct {
	idx    int
	called bool
	j      ports.Judgement
	err    error
}

// sample spends the AI budget. Calls run in bounded batches; the
// coordinating goroutine is the only writer of st.
func (u Usecase) sample(ctx context.Context, st *jobState) error {
	dur := st.src.Duration
	span := u.t.SampleSpan(st.params.HighlightType)
	ranked := highlights.Rank(st.scores)

	n := highlights.SampleCount(dur, st.params.CostOptimize, st.calls, len(st.scores), u.t)
	picks := highlights.PickSamples(ranked, dur, n, u.t)
	n = len(picks)
	st.diag.SamplesPlanned = n

	before := highlights.EstimateCost(st.calls+n, u.t)
	st.diag.EstimatedCostBefore = before
	lvl := zerolog.InfoLevel
	if before > u.t.CostWarnAt {
		lvl = zerolog.WarnLevel
	}
	st.log.WithLevel(lvl).Int("samples", n).Int("reserved_calls", st.calls).Float64("estimated_cost", before).Msg("sampling plan")

	st.samples = make([]types.SampleScore, n)
	for i, p := range picks {
		st.samples[i] = types.SampleScore{
			Window: highlights.SampleWindow(p.Window, span, dur),
			Failed: true,
		}
	}

	results := make(chan sampleResult, n)
	sem := semaphore.NewWeighted(int64(u.t.BatchSize))
	limit := u.t.FailFraction * float64(n)
	var launched, received, failed int
	aborted := false

	record := func(r sampleResult) {
		received++
		if r.called {
			st.calls++
		}
		if r.err != nil {
			failed++
			st.log.Debug().Err(r.err).Str("window", st.samples[r.idx].Window.String()).Msg("sample failed")
		} else {
			s := &st.samples[r.idx]
			s.Relevance = r.j.Relevance
			s.Rationale = r.j.Rationale
			s.Caption = r.j.Caption
			s.Failed = false
		}
		st.progress("sampling", 30+50*float64(received)/float64(max(n, 1)), fmt.Sprintf("%d/%d samples", received, n))
	}
	drain := func() {
		for {
			select {
			case r := <-results:
				record(r)
			default:
				return
			}
		}
	}

	st.progress("sampling", 30, fmt.Sprintf("0/%d samples", n))
	for i := range st.samples {
		drain()
		if ctx.Err() != nil {
			break
		}
		if float64(failed) > limit {
			aborted = true
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		drain()
		if ctx.Err() != nil {
			sem.Release(1)
			break
		}
		if float64(failed) > limit {
			sem.Release(1)
			aborted = true
			break
		}
		launched++
		go func(idx int, w types.TimeWindow) {
			defer sem.Release(1)
			// in-flight calls outlive job cancellation, bounded by the call timeout
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.t.CallTimeout)
			defer cancel()
			results <- u.scoreOne(callCtx, st, idx, w)
		}(i, st.samples[i].Window)
	}
	for received < launched {
		record(<-results)
	}

	if err := ctx.Err(); err != nil {
		st.log.Info().Int("launched", launched).Int("planned", n).Msg("sampling stopped by cancellation")
		return err
	}

	st.diag.SamplesFailed = n - (launched - failed)
	if aborted {
		st.log.Warn().Int("failed", failed).Int("planned", n).Msg("too many failed samples, no further AI calls")
	}
	if n == 0 || float64(st.diag.SamplesFailed) > u.t.FailFraction*float64(n) {
		st.fallback = true
		st.diag.FallbackReason = fmt.Sprintf("%d of %d AI samples failed", st.diag.SamplesFailed, n)
		st.samples = highlights.TechnicalSamples(st.scores, span, dur)
		st.warn("AI scoring unavailable, using technical scores only")
	}

	actual := highlights.EstimateCost(st.calls, u.t)
	st.log.Info().
		Int("ai_calls", st.calls).
		Int("failed", st.diag.SamplesFailed).
		Float64("estimated_cost", actual).
		Msg("sampling done")
	if actual > u.t.CostWarnAt {
		st.log.Warn().Float64("estimated_cost", actual).Msg("AI cost above warning threshold")
	}
	return nil
}

// scoreOne runs on a worker goroutine and must not touch st beyond reads of
// immutable fields.
func (u Usecase) scoreOne(ctx context.Context, st *jobState, idx int, w types.TimeWindow) sampleResult {
	frame, err := u.d.Video.ExtractFrame(ctx, st.src.Path, w.Mid())
	if err != nil {
		return sampleResult{idx: idx, err: fmt.Errorf("extract frame: %w", err)}
	}
	j, err := u.d.Vision.ScoreSample(ctx, ports.ScoreRequest{
		Frames:       [][]byte{frame},
		Window:       w,
		Target:       st.target.Describe(),
		Instructions: st.params.Instructions,
		Kind:         st.params.HighlightType,
	})
	if err != nil {
		return sampleResult{idx: idx, called: true, err: err}
	}
	if math.IsNaN(j.Relevance) {
		return sampleResult{idx: idx, called: true, err: errors.New("relevance is NaN")}
	}
	return sampleResult{idx: idx, called: true, j: j}
}
