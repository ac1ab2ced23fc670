package types

// MatchTarget is what every sample is scored against. Its variants are
// FreeText and FromExample; no other implementations exist.
type MatchTarget interface {
	Describe() string
	Source() string
	matchTarget()
}

type FreeText struct {
	Prompt string
}

func (t FreeText) Describe() string { return t.Prompt }
func (FreeText) Source() string     { return "free_text" }
func (FreeText) matchTarget()       {}

// FromExample carries the description distilled from an example range.
// Distilled is false when the AI call failed and the caller's own text was used.
type FromExample struct {
	Window      TimeWindow
	Description string
	Distilled   bool
}

func (t FromExample) Describe() string { return t.Description }

func (t FromExample) Source() string {
	if t.Distilled {
		return "example"
	}
	return "example_text"
}

func (FromExample) matchTarget() {}
