package types

import (
	"fmt"
	"time"
)

type SourceVideo struct {
	MediaID  string
	Path     string
	Duration time.Duration
	FPS      float64
	Width    int
	Height   int
	HasAudio bool
}

// TimeWindow is the half-open interval [Start, End) over a source video.
type TimeWindow struct {
	Start time.Duration
	End   time.Duration
}

func (w TimeWindow) Len() time.Duration { return w.End - w.Start }

func (w TimeWindow) Mid() time.Duration { return w.Start + (w.End-w.Start)/2 }

func (w TimeWindow) Valid(total time.Duration) bool {
	return w.Start >= 0 && w.Start < w.End && w.End <= total
}

func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start < o.End && o.Start < w.End
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("%.2fs-%.2fs", w.Start.Seconds(), w.End.Seconds())
}

type TechnicalScore struct {
	Window   TimeWindow
	Motion   float64
	Audio    float64
	Combined float64
}

type SampleScore struct {
	Window    TimeWindow
	Relevance float64
	Rationale string
	Caption   string
	Failed    bool
}

type CandidateSegment struct {
	Window  TimeWindow
	Score   float64
	Samples int
	Caption string
}

type SelectionPlan struct {
	Segments    []CandidateSegment
	Total       time.Duration
	UnusedScore float64
}

// Seconds converts wire seconds into a duration.
func Seconds(sec float64) time.Duration { return time.Duration(sec * float64(time.Second)) }

// SignalPoint is one raw measurement from the technical analysis passes.
type SignalPoint struct {
	At    time.Duration
	Value float64
}

type Signals struct {
	Motion []SignalPoint
	Audio  []SignalPoint
}
