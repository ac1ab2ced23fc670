package types

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

type Result struct {
	JobID            string       `json:"job_id"`
	Status           Status       `json:"status"`
	ArtifactURL      string       `json:"artifact_url,omitempty"`
	ThumbnailURL     string       `json:"thumbnail_url,omitempty"`
	SelectedSegments []SegmentOut `json:"selected_segments"`
	AICallsUsed      int          `json:"ai_calls_used"`
	EstimatedCost    float64      `json:"estimated_cost"`
	FallbackUsed     bool         `json:"fallback_used"`
	Diagnostics      Diagnostics  `json:"diagnostics"`
	Error            *ResultError `json:"error,omitempty"`
}

type SegmentOut struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score"`
}

type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Diagnostics struct {
	RelaxationApplied   bool     `json:"relaxation_applied"`
	ShortfallSeconds    float64  `json:"shortfall_seconds"`
	FinalThreshold      float64  `json:"final_threshold"`
	UnusedScore         float64  `json:"unused_score"`
	SelectedSeconds     float64  `json:"selected_seconds"`
	SamplesPlanned      int      `json:"samples_planned"`
	SamplesFailed       int      `json:"samples_failed"`
	WindowSizeSeconds   float64  `json:"window_size_seconds"`
	WindowCount         int      `json:"window_count"`
	MatchTargetSource   string   `json:"match_target_source,omitempty"`
	FallbackReason      string   `json:"fallback_reason,omitempty"`
	EstimatedCostBefore float64  `json:"estimated_cost_before"`
	Warnings            []string `json:"warnings,omitempty"`
	RenderError         string   `json:"render_error,omitempty"`
}

// Progress is the job's live record, written by one stage at a time.
type Progress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// Wire converts a plan into its outbound form.
func (p SelectionPlan) Wire() []SegmentOut {
	out := make([]SegmentOut, 0, len(p.Segments))
	for _, s := range p.Segments {
		out = append(out, SegmentOut{
			Start: s.Window.Start.Seconds(),
			End:   s.Window.End.Seconds(),
			Score: s.Score,
		})
	}
	return out
}
