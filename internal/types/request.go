package types

import (
	"fmt"
	"strings"
	"time"
)

type HighlightType string

const (
	TypeStory  HighlightType = "story"
	TypeReel   HighlightType = "reel"
	TypeShort  HighlightType = "short"
	TypeAction HighlightType = "action"
)

type Style string

const (
	StyleDynamic   Style = "dynamic"
	StyleMinimal   Style = "minimal"
	StyleElegant   Style = "elegant"
	StyleCinematic Style = "cinematic"
)

const (
	DefaultTargetSeconds  = 30
	DefaultContextPadding = 2.0
	MaxContextPadding     = 10.0
)

// Request is the inbound generation request as it arrives on the wire.
// Optional fields with non-zero defaults are pointers.
type Request struct {
	MediaID             string        `json:"media_id"`
	Duration            int           `json:"duration,omitempty"`
	HighlightType       HighlightType `json:"highlight_type,omitempty"`
	Style               Style         `json:"style,omitempty"`
	IncludeText         *bool         `json:"include_text,omitempty"`
	IncludeMusic        bool          `json:"include_music,omitempty"`
	Example             *Example      `json:"example,omitempty"`
	Prompt              *string       `json:"prompt,omitempty"`
	ContextPadding      *float64      `json:"context_padding,omitempty"`
	ContentInstructions *string       `json:"content_instructions,omitempty"`
	CostOptimize        *bool         `json:"cost_optimize,omitempty"`
}

type Example struct {
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Description string  `json:"description,omitempty"`
}

// Params is a Request with defaults applied and field-level checks done.
type Params struct {
	MediaID        string
	Target         time.Duration
	HighlightType  HighlightType
	Style          Style
	IncludeText    bool
	IncludeMusic   bool
	Example        *ExampleRange
	Prompt         string
	ContextPadding time.Duration
	Instructions   string
	CostOptimize   bool
}

type ExampleRange struct {
	Window      TimeWindow
	Description string
}

// Normalize applies defaults and validates everything that does not need
// the source video. Match target errors wrap ErrNoMatchTarget, the rest
// wrap ErrInvalidRequest.
func (r Request) Normalize() (Params, error) {
	p := Params{
		MediaID:       strings.TrimSpace(r.MediaID),
		Target:        time.Duration(r.Duration) * time.Second,
		HighlightType: r.HighlightType,
		Style:         r.Style,
		IncludeText:   true,
		IncludeMusic:  r.IncludeMusic,
		CostOptimize:  true,
	}
	if p.MediaID == "" {
		return Params{}, fmt.Errorf("%w: media_id is required", ErrInvalidRequest)
	}
	if r.Duration < 0 {
		return Params{}, fmt.Errorf("%w: duration must be > 0", ErrInvalidRequest)
	}
	if r.Duration == 0 {
		p.Target = DefaultTargetSeconds * time.Second
	}
	if p.HighlightType == "" {
		p.HighlightType = TypeStory
	}
	switch p.HighlightType {
	case TypeStory, TypeReel, TypeShort, TypeAction:
	default:
		return Params{}, fmt.Errorf("%w: unknown highlight_type %q", ErrInvalidRequest, p.HighlightType)
	}
	if p.Style == "" {
		p.Style = StyleDynamic
	}
	switch p.Style {
	case StyleDynamic, StyleMinimal, StyleElegant, StyleCinematic:
	default:
		return Params{}, fmt.Errorf("%w: unknown style %q", ErrInvalidRequest, p.Style)
	}
	if r.IncludeText != nil {
		p.IncludeText = *r.IncludeText
	}
	if r.CostOptimize != nil {
		p.CostOptimize = *r.CostOptimize
	}
	pad := DefaultContextPadding
	if r.ContextPadding != nil {
		pad = *r.ContextPadding
	}
	if pad < 0 || pad > MaxContextPadding {
		return Params{}, fmt.Errorf("%w: context_padding must be within 0-%.0f seconds", ErrInvalidRequest, MaxContextPadding)
	}
	p.ContextPadding = Seconds(pad)
	if r.ContentInstructions != nil {
		p.Instructions = strings.TrimSpace(*r.ContentInstructions)
	}
	if r.Prompt != nil {
		p.Prompt = strings.TrimSpace(*r.Prompt)
	}

	switch {
	case r.Example != nil && p.Prompt != "":
		return Params{}, fmt.Errorf("%w: provide either example or prompt, not both", ErrNoMatchTarget)
	case r.Example == nil && p.Prompt == "":
		return Params{}, fmt.Errorf("%w: example or prompt is required", ErrNoMatchTarget)
	case r.Example != nil:
		ex := r.Example
		if ex.StartTime < 0 || ex.EndTime <= ex.StartTime {
			return Params{}, fmt.Errorf("%w: example start_time must be >= 0 and before end_time", ErrNoMatchTarget)
		}
		p.Example = &ExampleRange{
			Window:      TimeWindow{Start: Seconds(ex.StartTime), End: Seconds(ex.EndTime)},
			Description: strings.TrimSpace(ex.Description),
		}
	}
	return p, nil
}

// CheckBounds validates the example range against the probed source.
func (p Params) CheckBounds(src SourceVideo) error {
	if p.Example == nil {
		return nil
	}
	if !p.Example.Window.Valid(src.Duration) {
		return fmt.Errorf("%w: example %s is outside the source (0-%.2fs)", ErrNoMatchTarget, p.Example.Window, src.Duration.Seconds())
	}
	return nil
}
