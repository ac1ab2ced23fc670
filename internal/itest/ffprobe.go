//go:build integration

package itest

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// mediaInfo is what the tests assert about a rendered file.
type mediaInfo struct {
	Duration float64
	Width    int
	Height   int
	HasAudio bool
}

func probeMedia(path string) (mediaInfo, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type,width,height",
		"-of", "json",
		path,
	)
	b, err := cmd.Output()
	if err != nil {
		return mediaInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var out struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return mediaInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var info mediaInfo
	if info.Duration, err = strconv.ParseFloat(out.Format.Duration, 64); err != nil {
		return mediaInfo{}, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
	}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.Width == 0 {
				info.Width, info.Height = s.Width, s.Height
			}
		case "audio":
			info.HasAudio = true
		}
	}
	return info, nil
}
