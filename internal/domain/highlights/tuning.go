package highlights

import (
	"errors"
	"fmt"
	"time"

	"github.com/forPelevin/hlreel/internal/types"
)

// Tuning holds every empirical constant of the engine. Values come from
// DefaultTuning, optionally overlaid by a YAML file.
type Tuning struct {
	// Pre-filter
	TargetWindows int           `yaml:"target_windows"`
	MinWindow     time.Duration `yaml:"min_window"`
	MotionWeight  float64       `yaml:"motion_weight"`
	AudioWeight   float64       `yaml:"audio_weight"`

	// Sampling budget
	MinSamples             int                                   `yaml:"min_samples"`
	MaxSamples             int                                   `yaml:"max_samples"`
	SamplesPerMinute       float64                               `yaml:"samples_per_minute"`
	CostOptimizedPerMinute float64                               `yaml:"cost_optimized_per_minute"`
	TopFraction            float64                               `yaml:"top_fraction"`
	SampleSpans            map[types.HighlightType]time.Duration `yaml:"sample_spans"`
	BatchSize              int                                   `yaml:"batch_size"`
	CallTimeout            time.Duration                         `yaml:"call_timeout"`
	FailFraction           float64                               `yaml:"fail_fraction"`
	CostPerCall            float64                               `yaml:"cost_per_call"`
	CostWarnAt             float64                               `yaml:"cost_warn_at"`

	// Assembly
	Threshold    float64       `yaml:"threshold"`
	MinThreshold float64       `yaml:"min_threshold"`
	RelaxStep    float64       `yaml:"relax_step"`
	MergeGap     time.Duration `yaml:"merge_gap"`
	MinSegment   time.Duration `yaml:"min_segment"`
	TrimFinal    bool          `yaml:"trim_final"`

	// Rendering
	Transitions map[types.Style]time.Duration `yaml:"transitions"`
}

func DefaultTuning() Tuning {
	return Tuning{
		TargetWindows: 120,
		MinWindow:     time.Second,
		MotionWeight:  0.7,
		AudioWeight:   0.3,

		MinSamples:             5,
		MaxSamples:             20,
		SamplesPerMinute:       1.0,
		CostOptimizedPerMinute: 0.1,
		TopFraction:            0.6,
		SampleSpans: map[types.HighlightType]time.Duration{
			types.TypeAction: 3 * time.Second,
			types.TypeShort:  4 * time.Second,
			types.TypeReel:   5 * time.Second,
			types.TypeStory:  6 * time.Second,
		},
		BatchSize:    4,
		CallTimeout:  90 * time.Second,
		FailFraction: 0.5,
		CostPerCall:  0.01,
		CostWarnAt:   2.0,

		Threshold:    0.5,
		MinThreshold: 0.1,
		RelaxStep:    0.1,
		MergeGap:     3 * time.Second,
		MinSegment:   2 * time.Second,
		TrimFinal:    true,

		Transitions: map[types.Style]time.Duration{
			types.StyleDynamic:   150 * time.Millisecond,
			types.StyleMinimal:   0,
			types.StyleElegant:   500 * time.Millisecond,
			types.StyleCinematic: 800 * time.Millisecond,
		},
	}
}

func (t Tuning) Validate() error {
	if t.TargetWindows <= 0 {
		return errors.New("target_windows must be > 0")
	}
	if t.MinWindow <= 0 {
		return errors.New("min_window must be > 0")
	}
	if t.MotionWeight < 0 || t.AudioWeight < 0 || t.MotionWeight+t.AudioWeight == 0 {
		return errors.New("motion_weight and audio_weight must be >= 0 and not both zero")
	}
	if t.MinSamples <= 0 || t.MaxSamples < t.MinSamples {
		return fmt.Errorf("sample range %d-%d is invalid", t.MinSamples, t.MaxSamples)
	}
	if t.SamplesPerMinute <= 0 || t.CostOptimizedPerMinute <= 0 {
		return errors.New("samples per minute must be > 0")
	}
	if t.TopFraction < 0 || t.TopFraction > 1 {
		return errors.New("top_fraction must be within 0-1")
	}
	if t.BatchSize <= 0 {
		return errors.New("batch_size must be > 0")
	}
	if t.CallTimeout <= 0 {
		return errors.New("call_timeout must be > 0")
	}
	if t.FailFraction <= 0 || t.FailFraction > 1 {
		return errors.New("fail_fraction must be within (0, 1]")
	}
	if t.CostPerCall < 0 {
		return errors.New("cost_per_call must be >= 0")
	}
	if t.Threshold <= 0 || t.Threshold > 1 {
		return errors.New("threshold must be within (0, 1]")
	}
	if t.MinThreshold <= 0 || t.MinThreshold > t.Threshold {
		return errors.New("min_threshold must be within (0, threshold]")
	}
	if t.RelaxStep <= 0 {
		return errors.New("relax_step must be > 0")
	}
	if t.MergeGap < 0 || t.MinSegment < 0 {
		return errors.New("merge_gap and min_segment must be >= 0")
	}
	return nil
}

// SampleSpan is the length of one sampled window for the highlight type.
func (t Tuning) SampleSpan(ht types.HighlightType) time.Duration {
	if d, ok := t.SampleSpans[ht]; ok && d > 0 {
		return d
	}
	return 5 * time.Second
}

func (t Tuning) Transition(s types.Style) time.Duration {
	if d, ok := t.Transitions[s]; ok && d >= 0 {
		return d
	}
	return 0
}
