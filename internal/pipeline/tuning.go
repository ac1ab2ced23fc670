package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/forPelevin/hlreel/internal/domain/highlights"
)

// LoadTuning overlays the YAML file at path on the default tuning. An empty
// path yields the defaults.
func LoadTuning(path string) (highlights.Tuning, error) {
	t := highlights.DefaultTuning()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return highlights.Tuning{}, fmt.Errorf("read tuning: %w", err)
		}
		if err := yaml.Unmarshal(b, &t); err != nil {
			return highlights.Tuning{}, fmt.Errorf("parse tuning %s: %w", path, err)
		}
	}
	if err := t.Validate(); err != nil {
		return highlights.Tuning{}, fmt.Errorf("tuning: %w", err)
	}
	return t, nil
}
