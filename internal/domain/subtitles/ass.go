package subtitles

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forPelevin/hlreel/internal/types"
)

var ErrEmptyCaption = errors.New("subtitles: empty caption")

// Caption is the on-screen text for one rendered segment.
type Caption struct {
	Text     string
	Length   time.Duration
	Vertical bool
	Style    types.Style
}

// RenderCaptionASS lays the caption out as segment-local ASS events. Long
// captions are split into lines shown one after another across the segment.
func RenderCaptionASS(c Caption) (string, error) {
	words := strings.Fields(sanitizeASS(c.Text))
	if len(words) == 0 {
		return "", ErrEmptyCaption
	}
	if c.Length <= 0 {
		return "", fmt.Errorf("subtitles: non-positive caption length %s", c.Length)
	}

	charBudget := 42
	if c.Vertical {
		charBudget = 24
	}
	lines := packWords(words, charBudget, 9)
	timeLines(lines, c.Length)

	var b strings.Builder
	b.WriteString(assHeader(c.Vertical))
	b.WriteString("\n[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, ln := range lines {
		b.WriteString("Dialogue: 0,")
		b.WriteString(assTime(ln.Start))
		b.WriteString(",")
		b.WriteString(assTime(ln.End))
		b.WriteString(",Caption,,0,0,0,,")
		b.WriteString(lineText(ln, c.Style))
		b.WriteString("\n")
	}
	return b.String(), nil
}

type line struct {
	Start time.Duration
	End   time.Duration
	Words []string
	Runes int
}

func packWords(words []string, charBudget, wordBudget int) []line {
	var out []line
	var cur line
	for _, w := range words {
		wl := len([]rune(w))
		next := cur.Runes
		if len(cur.Words) > 0 {
			next++
		}
		next += wl
		if len(cur.Words) > 0 && (len(cur.Words) >= wordBudget || next > charBudget) {
			out = append(out, cur)
			cur = line{}
			next = wl
		}
		cur.Words = append(cur.Words, w)
		cur.Runes = next
	}
	if len(cur.Words) > 0 {
		out = append(out, cur)
	}
	return out
}

// timeLines spreads the segment length over the lines in proportion to
// their text length.
func timeLines(lines []line, length time.Duration) {
	total := 0
	for _, ln := range lines {
		total += ln.Runes
	}
	var at time.Duration
	for i := range lines {
		lines[i].Start = at
		if i == len(lines)-1 {
			lines[i].End = length
			break
		}
		at += time.Duration(int64(length) * int64(lines[i].Runes) / int64(total))
		lines[i].End = at
	}
}

func lineText(ln line, style types.Style) string {
	switch style {
	case types.StyleDynamic:
		// word-by-word reveal paced by word length
		cs := int((ln.End - ln.Start) / (10 * time.Millisecond))
		var b strings.Builder
		for _, w := range ln.Words {
			k := cs * len([]rune(w)) / max(ln.Runes, 1)
			if k < 1 {
				k = 1
			}
			b.WriteString(fmt.Sprintf("{\\k%d}%s ", k, w))
		}
		return strings.TrimRight(b.String(), " ")
	case types.StyleElegant, types.StyleCinematic:
		return "{\\fad(250,250)}" + strings.Join(ln.Words, " ")
	default:
		return strings.Join(ln.Words, " ")
	}
}

func assHeader(vertical bool) string {
	resX, resY, size, marginV := 1920, 1080, 64, 70
	if vertical {
		resX, resY, size, marginV = 1080, 1920, 72, 260
	}
	return strings.TrimSpace(fmt.Sprintf(`
[Script Info]
ScriptType: v4.00+
PlayResX: %d
PlayResY: %d
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Caption, Inter, %d, &H00FFFFFF, &H00FFD200, &H00000000, &H64000000, 1,0,0,0,100,100,0,0,1,5,2,2, 60,60,%d,1
`, resX, resY, size, marginV))
}

func assTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hs := int(d / time.Hour)
	d -= time.Duration(hs) * time.Hour
	ms := int(d / time.Minute)
	d -= time.Duration(ms) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	cs := int(d / (10 * time.Millisecond))
	return fmt.Sprintf("%d:%02d:%02d.%02d", hs, ms, s, cs)
}

func sanitizeASS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
