package highlights

import (
	"sort"

	"github.com/forPelevin/hlreel/internal/types"
)

// ScoreWindows averages the raw signals inside each window and combines
// them into one ranking value. Motion and audio are normalized by their
// maxima so the weights act on comparable scales.
func ScoreWindows(windows []types.TimeWindow, sig types.Signals, t Tuning) []types.TechnicalScore {
	motion := meanPerWindow(windows, sig.Motion)
	audio := meanPerWindow(windows, sig.Audio)
	maxM, maxA := maxOf(motion), maxOf(audio)

	out := make([]types.TechnicalScore, len(windows))
	for i, w := range windows {
		var c float64
		if maxM > 0 {
			c += t.MotionWeight * (motion[i] / maxM)
		}
		if maxA > 0 {
			c += t.AudioWeight * (audio[i] / maxA)
		}
		out[i] = types.TechnicalScore{Window: w, Motion: motion[i], Audio: audio[i], Combined: c}
	}
	return out
}

// Rank returns the scores ordered by combined value, best first.
func Rank(scores []types.TechnicalScore) []types.TechnicalScore {
	out := make([]types.TechnicalScore, len(scores))
	copy(out, scores)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Combined == out[j].Combined {
			return out[i].Window.Start < out[j].Window.Start
		}
		return out[i].Combined > out[j].Combined
	})
	return out
}

func meanPerWindow(windows []types.TimeWindow, pts []types.SignalPoint) []float64 {
	out := make([]float64, len(windows))
	if len(pts) == 0 || len(windows) == 0 {
		return out
	}
	sorted := make([]types.SignalPoint, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].At < sorted[j].At })

	j := 0
	for i, w := range windows {
		for j < len(sorted) && sorted[j].At < w.Start {
			j++
		}
		var sum float64
		n := 0
		for k := j; k < len(sorted) && sorted[k].At < w.End; k++ {
			if sorted[k].Value > 0 {
				sum += sorted[k].Value
			}
			n++
		}
		if n > 0 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

func maxOf(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

func clamp(x, a, b float64) float64 {
	if x < a {
		return a
	}
	if x > b {
		return b
	}
	return x
}
