package openrouter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/forPelevin/hlreel/internal/ports"
)

var scoreTextRE = regexp.MustCompile(`(?i)(?:score|rating|relevance)\D{0,20}?(\d+(?:\.\d+)?)`)

func (a *Adapter) DescribeExample(ctx context.Context, frames [][]byte, hint string) (string, error) {
	if len(frames) == 0 {
		return "", errors.New("describe example: no frames")
	}
	content, err := a.complete(ctx, []chatMessage{
		{Role: "user", Content: withImages(buildDescribePrompt(hint), frames)},
	}, "hlreel_example", describeSchema)
	if err != nil {
		return "", fmt.Errorf("describe example: %w", err)
	}
	return parseDescription(content)
}

func (a *Adapter) ScoreSample(ctx context.Context, req ports.ScoreRequest) (ports.Judgement, error) {
	if len(req.Frames) == 0 {
		return ports.Judgement{}, errors.New("score sample: no frames")
	}
	content, err := a.complete(ctx, []chatMessage{
		{Role: "user", Content: withImages(buildScorePrompt(req), req.Frames)},
	}, "hlreel_score", scoreSchema)
	if err != nil {
		return ports.Judgement{}, fmt.Errorf("score sample %s: %w", req.Window, err)
	}
	j, err := parseJudgement(content)
	if err != nil {
		return ports.Judgement{}, fmt.Errorf("score sample %s: %w", req.Window, err)
	}
	return j, nil
}

var describeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary":         map[string]any{"type": "string"},
		"visual_elements": map[string]any{"type": "string"},
		"action":          map[string]any{"type": "string"},
		"setting":         map[string]any{"type": "string"},
		"subjects":        map[string]any{"type": "string"},
		"mood":            map[string]any{"type": "string"},
	},
	"required": []string{"summary", "visual_elements", "action", "setting", "subjects", "mood"},
}

var scoreSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"relevance": map[string]any{"type": "number"},
		"rationale": map[string]any{"type": "string"},
		"caption":   map[string]any{"type": "string"},
	},
	"required": []string{"relevance", "rationale", "caption"},
}

func buildDescribePrompt(hint string) string {
	var b strings.Builder
	b.WriteString("These frames come from one short example clip of a longer video. ")
	b.WriteString("Describe what makes this moment recognisable so similar moments can be found elsewhere in the same video. ")
	b.WriteString("Cover the visual elements, the action or motion, the setting, the people or objects, and the mood. ")
	b.WriteString("Focus only on what is visible, not on how the footage was made. ")
	if h := strings.TrimSpace(hint); h != "" {
		b.WriteString("The uploader describes the clip as: ")
		b.WriteString(fmt.Sprintf("%q. ", h))
	}
	b.WriteString("Return strictly valid JSON (no markdown, no code fences) matching the provided schema.")
	return b.String()
}

func buildScorePrompt(req ports.ScoreRequest) string {
	var b strings.Builder
	b.WriteString("You are picking moments for a ")
	b.WriteString(string(req.Kind))
	b.WriteString(" highlight reel. ")
	b.WriteString(fmt.Sprintf("The frames below are taken from %s of the source video.\n", req.Window))
	b.WriteString("Target moment: ")
	b.WriteString(strings.TrimSpace(req.Target))
	b.WriteString("\n")
	if ins := strings.TrimSpace(req.Instructions); ins != "" {
		b.WriteString("Additional instructions: ")
		b.WriteString(ins)
		b.WriteString("\n")
	}
	b.WriteString("Rate relevance to the target from 0 (unrelated) to 10 (exactly this kind of moment). ")
	b.WriteString("Give a one sentence rationale and a caption of at most eight words suitable as on-screen text. ")
	b.WriteString("Return strictly valid JSON (no markdown, no code fences) matching the provided schema.")
	return b.String()
}

func withImages(text string, frames [][]byte) []map[string]any {
	parts := make([]map[string]any, 0, len(frames)+1)
	parts = append(parts, map[string]any{"type": "text", "text": text})
	for _, f := range frames {
		parts = append(parts, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(f),
			},
		})
	}
	return parts
}

func parseDescription(content string) (string, error) {
	clean, err := extractJSONObject(content)
	if err != nil {
		// plain prose is still a usable description
		if t := strings.TrimSpace(content); t != "" {
			return truncate(t, 1000), nil
		}
		return "", err
	}
	var d struct {
		Summary        any `json:"summary"`
		VisualElements any `json:"visual_elements"`
		Action         any `json:"action"`
		Setting        any `json:"setting"`
		Subjects       any `json:"subjects"`
		Mood           any `json:"mood"`
	}
	if err := json.Unmarshal([]byte(clean), &d); err != nil {
		return "", fmt.Errorf("decode description: %w", err)
	}

	var parts []string
	if s := textOf(d.Summary); s != "" {
		parts = append(parts, strings.TrimRight(s, ".")+".")
	}
	for _, f := range []struct {
		label string
		v     any
	}{
		{"Visual elements", d.VisualElements},
		{"Action", d.Action},
		{"Setting", d.Setting},
		{"People/objects", d.Subjects},
		{"Mood", d.Mood},
	} {
		if s := textOf(f.v); s != "" {
			parts = append(parts, f.label+": "+strings.TrimRight(s, ".")+".")
		}
	}
	if len(parts) == 0 {
		return "", errors.New("openrouter: empty description")
	}
	return strings.Join(parts, " "), nil
}

// textOf flattens a string or list of strings.
func textOf(v any) string {
	if ss, err := cast.ToStringSliceE(v); err == nil && len(ss) > 0 {
		if _, isString := v.(string); !isString {
			return strings.TrimSpace(strings.Join(ss, ", "))
		}
	}
	return strings.TrimSpace(cast.ToString(v))
}

func parseJudgement(content string) (ports.Judgement, error) {
	var j ports.Judgement
	if clean, err := extractJSONObject(content); err == nil {
		var m map[string]any
		if json.Unmarshal([]byte(clean), &m) == nil {
			for _, key := range []string{"relevance", "score", "rating"} {
				v, ok := m[key]
				if !ok {
					continue
				}
				if f, err := cast.ToFloat64E(v); err == nil {
					j.Relevance = clampRelevance(f)
					j.Rationale = truncate(textOf(m["rationale"]), 300)
					j.Caption = truncate(textOf(m["caption"]), 80)
					return j, nil
				}
			}
		}
	}

	// Non-JSON answers: take the first number after a score keyword.
	if mm := scoreTextRE.FindStringSubmatch(content); len(mm) == 2 {
		if f, err := cast.ToFloat64E(mm[1]); err == nil {
			j.Relevance = clampRelevance(f)
			j.Rationale = truncate(strings.TrimSpace(content), 200)
			return j, nil
		}
	}
	return ports.Judgement{}, fmt.Errorf("openrouter: no relevance in response %q", truncate(content, 200))
}

func clampRelevance(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 10 {
		return 10
	}
	return f
}
