package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/forPelevin/hlreel/internal/types"
)

const exampleFrames = 3

// resolveTarget builds the job's single MatchTarget. An example range costs
// one AI call; when it fails the caller's own description is used instead.
func (u Usecase) resolveTarget(ctx context.Context, st *jobState) error {
	p := st.params
	if p.Example == nil {
		st.target = types.FreeText{Prompt: p.Prompt}
		return nil
	}

	ex := p.Example
	desc, err := u.distill(ctx, st, ex.Window)
	if err == nil && desc != "" {
		st.target = types.FromExample{Window: ex.Window, Description: desc, Distilled: true}
		st.log.Info().Str("example", ex.Window.String()).Str("description", desc).Msg("example distilled")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if ex.Description == "" {
		return fmt.Errorf("%w: example could not be described: %v", types.ErrNoMatchTarget, err)
	}
	st.warn(fmt.Sprintf("example description failed, using the provided description: %v", err))
	st.target = types.FromExample{Window: ex.Window, Description: ex.Description}
	return nil
}

func (u Usecase) distill(ctx context.Context, st *jobState, w types.TimeWindow) (string, error) {
	frames := make([][]byte, 0, exampleFrames)
	for i := 1; i <= exampleFrames; i++ {
		at := w.Start + w.Len()*time.Duration(i)/time.Duration(exampleFrames+1)
		b, err := u.d.Video.ExtractFrame(ctx, st.src.Path, at)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			st.log.Debug().Err(err).Dur("at", at).Msg("example frame extraction failed")
			continue
		}
		frames = append(frames, b)
	}
	if len(frames) == 0 {
		return "", fmt.Errorf("no frames extracted from example %s", w)
	}

	st.calls++
	callCtx, cancel := context.WithTimeout(ctx, u.t.CallTimeout)
	defer cancel()
	return u.d.Vision.DescribeExample(callCtx, frames, st.params.Example.Description)
}
