package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxStderrBytes = 4096

type Adapter struct {
	ffmpeg  string
	ffprobe string
	log     zerolog.Logger

	// AnalysisFPS is the frame rate the motion pass decodes at.
	AnalysisFPS float64
}

func New(ffmpegPath, ffprobePath string, log zerolog.Logger) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath, log: log, AnalysisFPS: 2}
}

// run executes a command whose stdout is not interesting.
func (a *Adapter) run(ctx context.Context, what string, bin string, args ...string) error {
	a.log.Debug().Str("cmd", bin).Strs("args", args).Msg(what)
	cmd := exec.CommandContext(ctx, bin, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w\n%s", what, err, tail(b))
	}
	return nil
}

// output executes a command and returns its stdout. Only the tail of stderr
// is kept for the error message.
func (a *Adapter) output(ctx context.Context, what string, bin string, args ...string) ([]byte, error) {
	a.log.Debug().Str("cmd", bin).Strs("args", args).Msg(what)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w\n%s", what, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func fmtSeconds(d time.Duration) string {
	sec := float64(d) / float64(time.Second)
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "\\\\")
	p = strings.ReplaceAll(p, ":", "\\:")
	p = strings.ReplaceAll(p, "'", "\\'")
	p = strings.ReplaceAll(p, ",", "\\,")
	return p
}

func tail(b []byte) string {
	if len(b) <= maxStderrBytes {
		return string(b)
	}
	return "..." + string(b[len(b)-maxStderrBytes:])
}

// limitedWriter keeps only the last limit bytes written to it.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		keep := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(keep)
	}
	return n, nil
}
