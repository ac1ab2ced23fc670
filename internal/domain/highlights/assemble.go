package highlights

import (
	"math"
	"sort"
	"time"

	"github.com/forPelevin/hlreel/internal/types"
)

type AssembleInput struct {
	Samples []types.SampleScore
	Source  time.Duration
	Target  time.Duration
	Padding time.Duration
}

type AssembleReport struct {
	Threshold  float64
	Relaxed    bool
	Candidates int
	Shortfall  time.Duration
}

// Assemble turns scored samples into a selection plan:
// threshold (relaxing while too little passes), merge close samples,
// pad starts, pick greedily by score, then order by time.
func Assemble(in AssembleInput, t Tuning) (types.SelectionPlan, AssembleReport) {
	valid := make([]types.SampleScore, 0, len(in.Samples))
	for _, s := range in.Samples {
		if s.Failed || !s.Window.Valid(in.Source) {
			continue
		}
		valid = append(valid, s)
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Window.Start < valid[j].Window.Start })

	rep := AssembleReport{Threshold: t.Threshold}
	segs := merge(keep(valid, rep.Threshold), t.MergeGap)
	for mass(segs) < in.Target && rep.Threshold > t.MinThreshold {
		rep.Threshold = math.Max(t.MinThreshold, roundTo(rep.Threshold-t.RelaxStep, 3))
		rep.Relaxed = true
		segs = merge(keep(valid, rep.Threshold), t.MergeGap)
	}

	content := make([]time.Duration, len(segs))
	for i, sg := range segs {
		content[i] = sg.Window.Start
	}
	segs = pad(segs, in.Padding)
	rep.Candidates = len(segs)

	plan := selectGreedy(segs, content, in.Target, t)
	if plan.Total < in.Target {
		rep.Shortfall = in.Target - plan.Total
	}
	return plan, rep
}

func keep(samples []types.SampleScore, threshold float64) []types.SampleScore {
	cut := threshold * 10
	var out []types.SampleScore
	for _, s := range samples {
		if s.Relevance+1e-9 >= cut {
			out = append(out, s)
		}
	}
	return out
}

// merge fuses chronologically sorted samples whose gap is at most gap.
// The aggregate score is the peak sample score.
func merge(samples []types.SampleScore, gap time.Duration) []types.CandidateSegment {
	var out []types.CandidateSegment
	for _, s := range samples {
		if n := len(out); n > 0 && s.Window.Start-out[n-1].Window.End <= gap {
			cur := &out[n-1]
			if s.Window.End > cur.Window.End {
				cur.Window.End = s.Window.End
			}
			cur.Samples++
			if s.Relevance > cur.Score {
				cur.Score = s.Relevance
				if s.Caption != "" {
					cur.Caption = s.Caption
				}
			}
			continue
		}
		out = append(out, types.CandidateSegment{
			Window:  s.Window,
			Score:   s.Relevance,
			Samples: 1,
			Caption: s.Caption,
		})
	}
	return out
}

func mass(segs []types.CandidateSegment) time.Duration {
	var total time.Duration
	for _, s := range segs {
		total += s.Window.Len()
	}
	return total
}

// pad extends each start backwards by padding, stopping at zero and at the
// end of the previous candidate. The cap applies whether or not that
// candidate ends up selected, so padding never reaches into scored content.
func pad(segs []types.CandidateSegment, padding time.Duration) []types.CandidateSegment {
	out := make([]types.CandidateSegment, len(segs))
	copy(out, segs)
	var prevEnd time.Duration
	for i := range out {
		start := out[i].Window.Start - padding
		if start < prevEnd {
			start = prevEnd
		}
		if start < 0 {
			start = 0
		}
		if start < out[i].Window.Start {
			out[i].Window.Start = start
		}
		prevEnd = segs[i].Window.End
	}
	return out
}

// selectGreedy picks by score until target is covered. content holds the
// unpadded start of each segment.
func selectGreedy(segs []types.CandidateSegment, content []time.Duration, target time.Duration, t Tuning) types.SelectionPlan {
	order := make([]int, len(segs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := segs[order[a]], segs[order[b]]
		if sa.Score == sb.Score {
			return sa.Window.Start < sb.Window.Start
		}
		return sa.Score > sb.Score
	})

	var plan types.SelectionPlan
	picked := make([]bool, len(segs))
	for _, i := range order {
		if plan.Total >= target {
			break
		}
		seg := segs[i]
		if overlapsAny(plan.Segments, seg.Window) {
			continue
		}
		remaining := target - plan.Total
		if t.TrimFinal && seg.Window.Len() > remaining && remaining >= t.MinSegment {
			seg.Window = trimTo(seg.Window, content[i], remaining, t.MinSegment)
		}
		plan.Segments = append(plan.Segments, seg)
		plan.Total += seg.Window.Len()
		picked[i] = true
	}
	for i, s := range segs {
		if !picked[i] {
			plan.UnusedScore += s.Score
		}
	}
	sort.Slice(plan.Segments, func(a, b int) bool {
		return plan.Segments[a].Window.Start < plan.Segments[b].Window.Start
	})
	return plan
}

// trimTo shortens w to length keep. Lead-in before contentStart is given up
// first so at least minContent of the scored span survives.
func trimTo(w types.TimeWindow, contentStart, keep, minContent time.Duration) types.TimeWindow {
	lead := contentStart - w.Start
	if keep-lead < minContent {
		lead = keep - minContent
		if lead < 0 {
			lead = 0
		}
	}
	end := contentStart + (keep - lead)
	if end > w.End {
		end = w.End
	}
	return types.TimeWindow{Start: contentStart - lead, End: end}
}

func overlapsAny(segs []types.CandidateSegment, w types.TimeWindow) bool {
	for _, s := range segs {
		if s.Window.Overlaps(w) {
			return true
		}
	}
	return false
}

// EvenPlan spreads a few fixed-length segments over the source. It is the
// last resort when no window carries any signal at all.
func EvenPlan(source, target time.Duration) types.SelectionPlan {
	if source <= 0 || target <= 0 {
		return types.SelectionPlan{}
	}
	if source <= target {
		w := types.TimeWindow{Start: 0, End: source}
		return types.SelectionPlan{Segments: []types.CandidateSegment{{Window: w, Samples: 0}}, Total: source}
	}
	n := int(target / (8 * time.Second))
	if n < 3 {
		n = 3
	}
	if n > 5 {
		n = 5
	}
	segLen := target / time.Duration(n)
	if segLen > 8*time.Second {
		segLen = 8 * time.Second
	}
	step := source / time.Duration(n+1)

	var plan types.SelectionPlan
	var prevEnd time.Duration
	for i := 1; i <= n; i++ {
		start := step*time.Duration(i) - segLen/2
		if start < prevEnd {
			start = prevEnd
		}
		end := start + segLen
		if end > source {
			end = source
		}
		if end <= start {
			continue
		}
		plan.Segments = append(plan.Segments, types.CandidateSegment{Window: types.TimeWindow{Start: start, End: end}})
		plan.Total += end - start
		prevEnd = end
	}
	return plan
}

func roundTo(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
