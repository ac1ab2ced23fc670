package highlights

import (
	"time"

	"github.com/forPelevin/hlreel/internal/types"
)

// WindowSize picks the coarse pre-filter window length for a source so the
// window count stays near TargetWindows: wide windows for long sources,
// never narrower than MinWindow.
func WindowSize(total time.Duration, t Tuning) time.Duration {
	if total <= 0 {
		return t.MinWindow
	}
	size := total / time.Duration(t.TargetWindows)
	// round to whole milliseconds so boundaries print cleanly
	size = size.Round(time.Millisecond)
	if size < t.MinWindow {
		size = t.MinWindow
	}
	return size
}

// BuildWindows tiles [0, total) with windows of the given size. The last
// window is clipped to the source end.
func BuildWindows(total, size time.Duration) []types.TimeWindow {
	if total <= 0 || size <= 0 {
		return nil
	}
	n := int((total + size - 1) / size)
	out := make([]types.TimeWindow, 0, n)
	for start := time.Duration(0); start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		if end-start < time.Millisecond {
			break
		}
		out = append(out, types.TimeWindow{Start: start, End: end})
	}
	return out
}

// SampleWindow narrows a pre-filter window to at most span, centred on the
// window's midpoint and kept inside [0, total].
func SampleWindow(w types.TimeWindow, span, total time.Duration) types.TimeWindow {
	if span <= 0 || w.Len() <= span {
		return w
	}
	start := w.Mid() - span/2
	if start < 0 {
		start = 0
	}
	end := start + span
	if end > total {
		end = total
		start = end - span
		if start < 0 {
			start = 0
		}
	}
	return types.TimeWindow{Start: start, End: end}
}

// TechnicalSamples turns pre-filter scores into samples so the assembler
// can run without any AI judgment. Relevance is the combined score scaled
// to 0..10 against the best window.
func TechnicalSamples(scores []types.TechnicalScore, span, total time.Duration) []types.SampleScore {
	var best float64
	for _, s := range scores {
		if s.Combined > best {
			best = s.Combined
		}
	}
	out := make([]types.SampleScore, 0, len(scores))
	for _, s := range scores {
		rel := 0.0
		if best > 0 {
			rel = clamp(10*(s.Combined/best), 0, 10)
		}
		out = append(out, types.SampleScore{
			Window:    SampleWindow(s.Window, span, total),
			Relevance: rel,
			Rationale: "technical",
		})
	}
	return out
}
