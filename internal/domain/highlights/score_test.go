package highlights

import (
	"testing"
	"time"

	"github.com/forPelevin/hlreel/internal/types"
)

func TestScoreWindows_MotionOutweighsAudio(t *testing.T) {
	ws := BuildWindows(4*time.Second, time.Second)
	sig := types.Signals{
		Motion: []types.SignalPoint{
			{At: 500 * time.Millisecond, Value: 0.9},
			{At: 1500 * time.Millisecond, Value: 0.1},
		},
		Audio: []types.SignalPoint{
			{At: 500 * time.Millisecond, Value: 0.1},
			{At: 1500 * time.Millisecond, Value: 0.9},
		},
	}
	got := ScoreWindows(ws, sig, DefaultTuning())
	if got[0].Combined <= got[1].Combined {
		t.Fatalf("expected motion-heavy window to rank higher: %v vs %v", got[0].Combined, got[1].Combined)
	}
	if got[2].Combined != 0 || got[3].Combined != 0 {
		t.Fatalf("expected windows without signal to score 0, got %v and %v", got[2].Combined, got[3].Combined)
	}
}

func TestScoreWindows_MissingAudioIsZero(t *testing.T) {
	ws := BuildWindows(2*time.Second, time.Second)
	sig := types.Signals{Motion: []types.SignalPoint{{At: 0, Value: 0.4}, {At: time.Second, Value: 0.2}}}
	got := ScoreWindows(ws, sig, DefaultTuning())
	for i, s := range got {
		if s.Audio != 0 {
			t.Fatalf("window %d: expected audio 0, got %v", i, s.Audio)
		}
	}
	if got[0].Combined != 0.7 {
		t.Fatalf("expected top window to carry the full motion weight, got %v", got[0].Combined)
	}
}

func TestScoreWindows_AveragesPointsInWindow(t *testing.T) {
	ws := BuildWindows(2*time.Second, 2*time.Second)
	sig := types.Signals{Motion: []types.SignalPoint{
		{At: 1500 * time.Millisecond, Value: 0.3},
		{At: 200 * time.Millisecond, Value: 0.1},
	}}
	got := ScoreWindows(ws, sig, DefaultTuning())
	if got[0].Motion < 0.1999 || got[0].Motion > 0.2001 {
		t.Fatalf("expected mean motion 0.2, got %v", got[0].Motion)
	}
}

func TestRank_OrdersByScoreThenTime(t *testing.T) {
	in := []types.TechnicalScore{
		{Window: types.TimeWindow{Start: 0, End: 1}, Combined: 0.5},
		{Window: types.TimeWindow{Start: 2, End: 3}, Combined: 0.9},
		{Window: types.TimeWindow{Start: 1, End: 2}, Combined: 0.5},
	}
	got := Rank(in)
	if got[0].Combined != 0.9 {
		t.Fatalf("expected best first, got %v", got[0].Combined)
	}
	if got[1].Window.Start != 0 || got[2].Window.Start != 1 {
		t.Fatalf("expected ties ordered by start, got %v then %v", got[1].Window.Start, got[2].Window.Start)
	}
	if in[0].Combined != 0.5 {
		t.Fatalf("Rank must not reorder its input")
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		x, want float64
	}{
		{-1, 0},
		{5, 5},
		{11, 10},
	}
	for _, tt := range tests {
		if got := clamp(tt.x, 0, 10); got != tt.want {
			t.Fatalf("clamp(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}
}
