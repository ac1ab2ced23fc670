package highlights

import (
	"testing"
	"time"

	"github.com/forPelevin/hlreel/internal/types"
)

func TestSampleCount_ClampedIndependentOfDuration(t *testing.T) {
	tun := DefaultTuning()
	tests := []struct {
		name         string
		total        time.Duration
		costOptimize bool
		reserved     int
		windows      int
		want         int
	}{
		{"1 min optimized", time.Minute, true, 0, 120, 5},
		{"60 min optimized", time.Hour, true, 0, 120, 6},
		{"180 min optimized", 3 * time.Hour, true, 0, 120, 18},
		{"600 min optimized", 10 * time.Hour, true, 0, 120, 20},
		{"1 min full", time.Minute, false, 0, 120, 5},
		{"10 min full", 10 * time.Minute, false, 0, 120, 10},
		{"60 min full", time.Hour, false, 0, 120, 20},
		{"180 min full", 3 * time.Hour, false, 0, 120, 20},
		{"reserved call lowers ceiling", 3 * time.Hour, false, 1, 120, 19},
		{"few windows", 10 * time.Minute, false, 0, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SampleCount(tt.total, tt.costOptimize, tt.reserved, tt.windows, tun)
			if got != tt.want {
				t.Fatalf("SampleCount = %d, want %d", got, tt.want)
			}
			if got > tun.MaxSamples {
				t.Fatalf("sample count %d exceeds ceiling %d", got, tun.MaxSamples)
			}
		})
	}
}

func TestEstimateCost(t *testing.T) {
	tun := DefaultTuning()
	if got := EstimateCost(7, tun); got != 0.07 {
		t.Fatalf("EstimateCost(7) = %v, want 0.07", got)
	}
	if got := EstimateCost(0, tun); got != 0 {
		t.Fatalf("EstimateCost(0) = %v, want 0", got)
	}
}

func TestPickSamples_TopFirstThenSpread(t *testing.T) {
	tun := DefaultTuning()
	total := 100 * time.Second
	windows := BuildWindows(total, 10*time.Second)
	scores := make([]types.TechnicalScore, len(windows))
	for i, w := range windows {
		scores[i] = types.TechnicalScore{Window: w}
	}
	// three hot windows clustered near the end
	scores[7].Combined = 0.9
	scores[8].Combined = 0.8
	scores[9].Combined = 0.7

	got := PickSamples(Rank(scores), total, 5, tun)
	if len(got) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(got))
	}
	seen := map[time.Duration]bool{}
	for i, s := range got {
		if seen[s.Window.Start] {
			t.Fatalf("duplicate sample at %v", s.Window.Start)
		}
		seen[s.Window.Start] = true
		if i > 0 && got[i-1].Window.Start > s.Window.Start {
			t.Fatalf("samples not chronological")
		}
	}
	for _, hot := range []int{7, 8, 9} {
		if !seen[windows[hot].Start] {
			t.Fatalf("expected hot window %d to be sampled", hot)
		}
	}
	if !seen[30*time.Second] || !seen[60*time.Second] {
		t.Fatalf("expected evenly spaced picks at 30s and 60s, got %v", seen)
	}
}

func TestPickSamples_FlatScoresStillCoverTimeline(t *testing.T) {
	tun := DefaultTuning()
	total := 120 * time.Second
	windows := BuildWindows(total, time.Second)
	scores := make([]types.TechnicalScore, len(windows))
	for i, w := range windows {
		scores[i] = types.TechnicalScore{Window: w}
	}

	got := PickSamples(Rank(scores), total, 5, tun)
	if len(got) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(got))
	}
	if got[0].Window.Start < 10*time.Second {
		t.Fatalf("expected first pick away from the start, got %v", got[0].Window.Start)
	}
	if got[4].Window.Start < 90*time.Second {
		t.Fatalf("expected last pick near the end, got %v", got[4].Window.Start)
	}
}

func TestPickSamples_NeverMoreThanWindows(t *testing.T) {
	tun := DefaultTuning()
	windows := BuildWindows(3*time.Second, time.Second)
	scores := make([]types.TechnicalScore, len(windows))
	for i, w := range windows {
		scores[i] = types.TechnicalScore{Window: w, Combined: float64(i)}
	}
	got := PickSamples(Rank(scores), 3*time.Second, 10, tun)
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
}
