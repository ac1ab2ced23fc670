package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/forPelevin/hlreel/internal/types"
)

type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

func (a *Adapter) Probe(ctx context.Context, path string) (types.SourceVideo, error) {
	b, err := a.output(ctx, "ffprobe", a.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		if ctx.Err() != nil {
			return types.SourceVideo{}, err
		}
		return types.SourceVideo{}, fmt.Errorf("%w: %v", types.ErrMediaUnreadable, err)
	}
	src, err := parseProbe(b)
	if err != nil {
		return types.SourceVideo{}, err
	}
	src.Path = path
	return src, nil
}

func parseProbe(b []byte) (types.SourceVideo, error) {
	var out probeOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return types.SourceVideo{}, fmt.Errorf("%w: decode ffprobe output: %v", types.ErrMediaUnreadable, err)
	}

	var src types.SourceVideo
	var videoDur float64
	haveVideo := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if haveVideo {
				continue
			}
			haveVideo = true
			src.Width, src.Height = s.Width, s.Height
			src.FPS = parseFrameRate(s.RFrameRate)
			if src.FPS <= 0 {
				src.FPS = parseFrameRate(s.AvgFrameRate)
			}
			videoDur, _ = strconv.ParseFloat(strings.TrimSpace(s.Duration), 64)
		case "audio":
			src.HasAudio = true
		}
	}
	if !haveVideo {
		return types.SourceVideo{}, fmt.Errorf("%w: no video stream", types.ErrMediaUnreadable)
	}

	sec, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil || sec <= 0 {
		sec = videoDur
	}
	if sec <= 0 {
		return types.SourceVideo{}, fmt.Errorf("%w: unknown or zero duration", types.ErrMediaUnreadable)
	}
	src.Duration = time.Duration(sec * float64(time.Second))
	return src, nil
}

// parseFrameRate reads ffprobe rationals such as "30000/1001".
func parseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}
