package highlights

import (
	"math"
	"sort"
	"time"

	"github.com/forPelevin/hlreel/internal/types"
)

// SampleCount is the number of AI scoring calls for a source. It grows with
// duration but is clamped to [MinSamples, MaxSamples]; reserved calls spent
// elsewhere in the job (the example description) come out of the ceiling so
// the job total never exceeds MaxSamples. It never exceeds the window count.
func SampleCount(total time.Duration, costOptimize bool, reserved, windows int, t Tuning) int {
	k := t.SamplesPerMinute
	if costOptimize {
		k = t.CostOptimizedPerMinute
	}
	n := int(math.Round(total.Minutes() * k))
	if n < t.MinSamples {
		n = t.MinSamples
	}
	if n > t.MaxSamples {
		n = t.MaxSamples
	}
	if ceil := t.MaxSamples - reserved; n > ceil {
		n = ceil
	}
	if n > windows {
		n = windows
	}
	if n < 0 {
		n = 0
	}
	return n
}

func EstimateCost(calls int, t Tuning) float64 {
	return math.Round(float64(calls)*t.CostPerCall*10000) / 10000
}

// PickSamples chooses n windows to spend the AI budget on. The best ranked
// windows with a non-zero score come first (up to TopFraction of n); the
// rest are spread evenly over the timeline so flat footage is still
// covered. The result is in chronological order.
func PickSamples(ranked []types.TechnicalScore, total time.Duration, n int, t Tuning) []types.TechnicalScore {
	if n <= 0 || len(ranked) == 0 {
		return nil
	}
	if n > len(ranked) {
		n = len(ranked)
	}

	byTime := make([]types.TechnicalScore, len(ranked))
	copy(byTime, ranked)
	sort.Slice(byTime, func(i, j int) bool { return byTime[i].Window.Start < byTime[j].Window.Start })

	used := make(map[time.Duration]bool, n)
	out := make([]types.TechnicalScore, 0, n)

	top := int(math.Round(float64(n) * t.TopFraction))
	for _, s := range ranked {
		if len(out) >= top {
			break
		}
		if s.Combined <= 0 {
			break
		}
		used[s.Window.Start] = true
		out = append(out, s)
	}

	rest := n - len(out)
	for i := 1; i <= rest; i++ {
		at := time.Duration(float64(total) * float64(i) / float64(rest+1))
		idx := sort.Search(len(byTime), func(k int) bool { return byTime[k].Window.End > at })
		if idx >= len(byTime) {
			idx = len(byTime) - 1
		}
		if pick, ok := nearestUnused(byTime, idx, used); ok {
			used[byTime[pick].Window.Start] = true
			out = append(out, byTime[pick])
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Window.Start < out[j].Window.Start })
	return out
}

func nearestUnused(byTime []types.TechnicalScore, idx int, used map[time.Duration]bool) (int, bool) {
	for d := 0; d < len(byTime); d++ {
		if i := idx - d; i >= 0 && !used[byTime[i].Window.Start] {
			return i, true
		}
		if i := idx + d; i < len(byTime) && !used[byTime[i].Window.Start] {
			return i, true
		}
	}
	return 0, false
}
