package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/forPelevin/hlreel/internal/types"
)

const (
	sceneKey = "lavfi.scene_score"
	rmsKey   = "lavfi.astats.Overall.RMS_level"

	audioRate      = 16000
	audioChunkSize = audioRate / 2
)

// MotionSignal returns the inter-frame scene change score over the whole
// source, decoded at AnalysisFPS on a downscaled picture.
func (a *Adapter) MotionSignal(ctx context.Context, src types.SourceVideo) ([]types.SignalPoint, error) {
	fps := a.AnalysisFPS
	if fps <= 0 {
		fps = 2
	}
	vf := fmt.Sprintf("fps=%s,scale=160:-2,select='gte(scene,0)',metadata=print:key=%s:file=-",
		strconv.FormatFloat(fps, 'f', -1, 64), sceneKey)
	b, err := a.output(ctx, "ffmpeg motion signal", a.ffmpeg,
		"-hide_banner", "-nostats",
		"-i", src.Path,
		"-an", "-sn", "-dn",
		"-vf", vf,
		"-f", "null", "-",
	)
	if err != nil {
		return nil, err
	}
	return parseMetadata(b, sceneKey, func(v float64) float64 { return math.Max(v, 0) }), nil
}

// AudioSignal returns linear RMS amplitude per half-second chunk.
func (a *Adapter) AudioSignal(ctx context.Context, src types.SourceVideo) ([]types.SignalPoint, error) {
	if !src.HasAudio {
		return nil, nil
	}
	af := fmt.Sprintf("aresample=%d,asetnsamples=n=%d:p=0,astats=metadata=1:reset=1,ametadata=print:key=%s:file=-",
		audioRate, audioChunkSize, rmsKey)
	b, err := a.output(ctx, "ffmpeg audio signal", a.ffmpeg,
		"-hide_banner", "-nostats",
		"-i", src.Path,
		"-vn", "-sn", "-dn",
		"-af", af,
		"-f", "null", "-",
	)
	if err != nil {
		return nil, err
	}
	return parseMetadata(b, rmsKey, dbToLinear), nil
}

// parseMetadata reads the metadata/ametadata print format:
//
//	frame:12   pts:6006    pts_time:6.006
//	lavfi.scene_score=0.041233
func parseMetadata(b []byte, key string, conv func(float64) float64) []types.SignalPoint {
	var out []types.SignalPoint
	at := time.Duration(-1)
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "frame:") {
			at = -1
			if i := strings.Index(line, "pts_time:"); i >= 0 {
				f := strings.Fields(line[i+len("pts_time:"):])
				if len(f) > 0 {
					if sec, err := strconv.ParseFloat(f[0], 64); err == nil && sec >= 0 {
						at = time.Duration(sec * float64(time.Second))
					}
				}
			}
			continue
		}
		if at < 0 || !strings.HasPrefix(line, key+"=") {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimPrefix(line, key+"="), 64)
		if err != nil || math.IsNaN(v) {
			v = math.Inf(-1)
		}
		out = append(out, types.SignalPoint{At: at, Value: conv(v)})
	}
	return out
}

// dbToLinear converts dBFS to amplitude; silence (-inf) is 0.
func dbToLinear(db float64) float64 {
	if math.IsInf(db, -1) || db < -120 {
		return 0
	}
	return math.Pow(10, db/20)
}
