package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forPelevin/hlreel/internal/domain/subtitles"
	"github.com/forPelevin/hlreel/internal/ports"
	"github.com/forPelevin/hlreel/internal/types"
)

const (
	artifactName  = "highlight.mp4"
	thumbnailName = "thumbnail.jpg"
)

// render cuts, concatenates and publishes the plan. On failure the scratch
// output is removed and the plan stays in the job state.
func (u Usecase) render(ctx context.Context, st *jobState) error {
	if len(st.plan.Segments) == 0 {
		return fmt.Errorf("%w: empty plan", types.ErrRenderFailed)
	}
	dir := filepath.Join(st.in.WorkDir, "render")
	if st.in.WorkDir == "" {
		tmp, err := os.MkdirTemp("", "hlreel-render-*")
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrRenderFailed, err)
		}
		dir = tmp
	}
	defer func() { _ = os.RemoveAll(dir) }()

	if err := u.renderInto(ctx, st, dir); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st.diag.RenderError = err.Error()
		st.artifactURL, st.thumbnailURL = "", ""
		return fmt.Errorf("%w: %v", types.ErrRenderFailed, err)
	}
	return nil
}

func (u Usecase) renderInto(ctx context.Context, st *jobState, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	p := st.params
	opts := ports.CutOptions{
		Fade:     u.t.Transition(p.Style),
		Vertical: p.HighlightType != types.TypeAction,
		HasAudio: st.src.HasAudio,
	}

	parts := make([]string, 0, len(st.plan.Segments))
	for i, seg := range st.plan.Segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := fmt.Sprintf("%03d", i+1)
		segOpts := opts
		if p.IncludeText {
			assPath := filepath.Join(dir, "subs", id+".ass")
			ok, err := writeCaption(assPath, captionFor(seg, st.target), seg.Window, opts.Vertical, p.Style)
			if err != nil {
				return err
			}
			if ok {
				segOpts.BurnASS = assPath
			}
		}
		out := filepath.Join(dir, "seg_"+id+".mp4")
		if err := u.d.Video.CutSegment(ctx, st.src.Path, seg.Window, segOpts, out); err != nil {
			return fmt.Errorf("segment %s: %w", seg.Window, err)
		}
		parts = append(parts, out)
		st.progress("render", 88+8*float64(i+1)/float64(len(st.plan.Segments)), fmt.Sprintf("%d/%d segments", i+1, len(st.plan.Segments)))
	}

	reel := filepath.Join(dir, "reel.mp4")
	if err := u.d.Video.Concat(ctx, parts, reel); err != nil {
		return err
	}

	if p.IncludeMusic {
		if st.in.MusicPath == "" {
			st.warn("include_music requested but no music bed is configured")
		} else {
			mixed := filepath.Join(dir, "reel_music.mp4")
			if err := u.d.Video.MixMusic(ctx, reel, st.in.MusicPath, st.src.HasAudio, mixed); err != nil {
				return err
			}
			reel = mixed
		}
	}

	thumb := filepath.Join(dir, thumbnailName)
	if err := u.d.Video.Thumbnail(ctx, reel, thumbnailAt(st.plan), thumb); err != nil {
		return err
	}

	artifactURL, err := u.d.Media.Store(ctx, st.in.JobID, artifactName, reel)
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	thumbURL, err := u.d.Media.Store(ctx, st.in.JobID, thumbnailName, thumb)
	if err != nil {
		return fmt.Errorf("store thumbnail: %w", err)
	}
	st.artifactURL, st.thumbnailURL = artifactURL, thumbURL
	st.log.Info().Str("artifact", artifactURL).Int("segments", len(parts)).Msg("highlight rendered")
	return nil
}

// thumbnailAt is the midpoint of the best segment measured on the reel
// timeline, since segments are laid back to back.
func thumbnailAt(plan types.SelectionPlan) (at time.Duration) {
	best := 0
	for i, s := range plan.Segments {
		if s.Score > plan.Segments[best].Score {
			best = i
		}
	}
	for i := 0; i < best; i++ {
		at += plan.Segments[i].Window.Len()
	}
	return at + plan.Segments[best].Window.Len()/2
}

func captionFor(seg types.CandidateSegment, target types.MatchTarget) string {
	if c := strings.TrimSpace(seg.Caption); c != "" {
		return c
	}
	if target == nil {
		return ""
	}
	return shortCaption(target.Describe(), 60)
}

// shortCaption keeps the first sentence, cut at a word boundary.
func shortCaption(s string, limit int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?\n"); i > 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	cut := string(r[:limit])
	if j := strings.LastIndex(cut, " "); j > limit/2 {
		cut = cut[:j]
	}
	return strings.TrimSpace(cut) + "..."
}

func writeCaption(path, text string, w types.TimeWindow, vertical bool, style types.Style) (bool, error) {
	ass, err := subtitles.RenderCaptionASS(subtitles.Caption{Text: text, Length: w.Len(), Vertical: vertical, Style: style})
	if errors.Is(err, subtitles.ErrEmptyCaption) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := writeFile(path, []byte(ass)); err != nil {
		return false, err
	}
	return true, nil
}
