package subtitles

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/forPelevin/hlreel/internal/types"
)

func TestRenderCaptionASS_DynamicHasKTags(t *testing.T) {
	ass, err := RenderCaptionASS(Caption{Text: "Top corner", Length: 4 * time.Second, Style: types.StyleDynamic})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ass, "{\\k") {
		t.Fatalf("expected karaoke tags in ASS, got:\n%s", ass)
	}
	if !strings.Contains(ass, "PlayResX: 1920") {
		t.Fatalf("expected landscape canvas, got:\n%s", ass)
	}
}

func TestRenderCaptionASS_VerticalSplitsLongCaption(t *testing.T) {
	ass, err := RenderCaptionASS(Caption{
		Text:     "The striker curls the ball into the top corner from thirty yards out",
		Length:   6 * time.Second,
		Vertical: true,
		Style:    types.StyleMinimal,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ass, "PlayResY: 1920") {
		t.Fatalf("expected vertical canvas, got:\n%s", ass)
	}
	events := strings.Count(ass, "Dialogue:")
	if events != 3 {
		t.Fatalf("expected 3 caption lines, got %d:\n%s", events, ass)
	}
	if !strings.Contains(ass, "Dialogue: 0,0:00:00.00,") {
		t.Fatalf("first line must start at zero:\n%s", ass)
	}
	if !strings.Contains(ass, ",0:00:06.00,Caption") {
		t.Fatalf("last line must end with the segment:\n%s", ass)
	}
	if strings.Contains(ass, "{\\") {
		t.Fatalf("minimal style must not carry override tags:\n%s", ass)
	}
}

func TestRenderCaptionASS_FadesForCinematic(t *testing.T) {
	ass, err := RenderCaptionASS(Caption{Text: "Golden hour", Length: 3 * time.Second, Style: types.StyleCinematic})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ass, "{\\fad(250,250)}Golden hour") {
		t.Fatalf("expected fade tag, got:\n%s", ass)
	}
}

func TestRenderCaptionASS_Rejects(t *testing.T) {
	if _, err := RenderCaptionASS(Caption{Text: "  ", Length: time.Second}); !errors.Is(err, ErrEmptyCaption) {
		t.Fatalf("expected ErrEmptyCaption, got %v", err)
	}
	if _, err := RenderCaptionASS(Caption{Text: "x", Length: 0}); err == nil {
		t.Fatalf("expected error for zero length")
	}
}

func TestSanitizeASS(t *testing.T) {
	if got := sanitizeASS("{\\b1}bold\nline"); got != "(\\\\b1)bold line" {
		t.Fatalf("unexpected sanitize: %q", got)
	}
}

func TestAssTime_Format(t *testing.T) {
	got := assTime(61*time.Second + 234*time.Millisecond)
	if got != "0:01:01.23" {
		t.Fatalf("unexpected assTime: %s", got)
	}
}
