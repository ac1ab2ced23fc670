package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forPelevin/hlreel/internal/ports"
	"github.com/forPelevin/hlreel/internal/types"
)

// ExtractFrame grabs a single downscaled JPEG still at the given offset.
func (a *Adapter) ExtractFrame(ctx context.Context, path string, at time.Duration) ([]byte, error) {
	b, err := a.output(ctx, "ffmpeg extract frame", a.ffmpeg,
		"-hide_banner", "-nostats",
		"-ss", fmtSeconds(at),
		"-i", path,
		"-frames:v", "1",
		"-vf", "scale=512:-2",
		"-q:v", "4",
		"-f", "image2",
		"-c:v", "mjpeg",
		"pipe:1",
	)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("ffmpeg extract frame: no image at %s", fmtSeconds(at))
	}
	return b, nil
}

func (a *Adapter) CutSegment(ctx context.Context, inPath string, w types.TimeWindow, opts ports.CutOptions, outPath string) error {
	return a.run(ctx, "ffmpeg cut segment", a.ffmpeg, cutArgs(inPath, w, opts, outPath)...)
}

func cutArgs(inPath string, w types.TimeWindow, opts ports.CutOptions, outPath string) []string {
	args := []string{
		"-y",
		"-ss", fmtSeconds(w.Start),
		"-to", fmtSeconds(w.End),
		"-i", inPath,
	}

	var vf []string
	if opts.Vertical {
		vf = append(vf, "crop='min(iw,ih*9/16)':ih", "scale=1080:1920", "setsar=1")
	} else {
		vf = append(vf, "scale=1920:-2", "setsar=1")
	}
	var af []string
	if fade := fadeLen(w.Len(), opts.Fade); fade > 0 {
		outAt := fmtSeconds(w.Len() - fade)
		d := fmtSeconds(fade)
		vf = append(vf, "fade=t=in:st=0:d="+d, "fade=t=out:st="+outAt+":d="+d)
		af = append(af, "afade=t=in:st=0:d="+d, "afade=t=out:st="+outAt+":d="+d)
	}
	if opts.BurnASS != "" {
		vf = append(vf, "subtitles="+escapeFilterPath(opts.BurnASS))
	}
	args = append(args, "-vf", strings.Join(vf, ","))

	args = append(args,
		"-r", "30",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
	)
	if opts.HasAudio {
		if len(af) > 0 {
			args = append(args, "-af", strings.Join(af, ","))
		}
		args = append(args,
			"-c:a", "aac",
			"-b:a", "192k",
			"-ar", "48000",
			"-ac", "2",
		)
	} else {
		args = append(args, "-an")
	}
	return append(args, "-movflags", "+faststart", outPath)
}

// fadeLen shortens the transition so fade in and fade out never overlap.
func fadeLen(seg, fade time.Duration) time.Duration {
	if fade <= 0 {
		return 0
	}
	if seg < 2*fade {
		return seg / 4
	}
	return fade
}

// Concat joins already encoded segments with the concat demuxer. The list
// file is written next to the output.
func (a *Adapter) Concat(ctx context.Context, parts []string, outPath string) error {
	if len(parts) == 0 {
		return errors.New("ffmpeg concat: no parts")
	}
	list := filepath.Join(filepath.Dir(outPath), "concat.txt")
	if err := os.WriteFile(list, []byte(concatList(parts)), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer func() { _ = os.Remove(list) }()

	return a.run(ctx, "ffmpeg concat", a.ffmpeg,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", list,
		"-c", "copy",
		"-movflags", "+faststart",
		outPath,
	)
}

func concatList(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// MixMusic lays a looped music bed under the reel. Without source audio the
// bed becomes the only track.
func (a *Adapter) MixMusic(ctx context.Context, inPath, musicPath string, hasAudio bool, outPath string) error {
	args := []string{
		"-y",
		"-i", inPath,
		"-stream_loop", "-1",
		"-i", musicPath,
	}
	if hasAudio {
		args = append(args,
			"-filter_complex", "[1:a]volume=0.2[bed];[0:a][bed]amix=inputs=2:duration=first:dropout_transition=0[a]",
		)
	} else {
		args = append(args, "-filter_complex", "[1:a]volume=0.5[a]")
	}
	args = append(args,
		"-map", "0:v",
		"-map", "[a]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		outPath,
	)
	return a.run(ctx, "ffmpeg mix music", a.ffmpeg, args...)
}

func (a *Adapter) Thumbnail(ctx context.Context, inPath string, at time.Duration, outPath string) error {
	return a.run(ctx, "ffmpeg thumbnail", a.ffmpeg,
		"-y",
		"-ss", fmtSeconds(at),
		"-i", inPath,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	)
}
