package detection

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning is the operator-editable detection configuration loaded from a
// YAML file: decision thresholds plus the emergency keyword set.
type Tuning struct {
	Thresholds Thresholds `yaml:"thresholds"`
	Keywords   []string   `yaml:"keywords"`
}

// DefaultTuning returns the shipped thresholds and keywords.
func DefaultTuning() Tuning {
	return Tuning{
		Thresholds: DefaultThresholds(),
		Keywords:   DefaultKeywords,
	}
}

// LoadTuning reads a tuning file, filling unset fields from the defaults.
// A missing path returns the defaults without error; a malformed file is a
// hard error since silently ignoring a bad tuning would change detection
// behavior.
func LoadTuning(path string) (Tuning, error) {
	tuning := DefaultTuning()
	if path == "" {
		return tuning, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tuning, nil
		}
		return tuning, fmt.Errorf("read tuning file: %w", err)
	}

	var loaded Tuning
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return tuning, fmt.Errorf("parse tuning file %s: %w", path, err)
	}

	if loaded.Thresholds.Volume > 0 {
		tuning.Thresholds.Volume = loaded.Thresholds.Volume
	}
	if loaded.Thresholds.Scream > 0 {
		tuning.Thresholds.Scream = loaded.Thresholds.Scream
	}
	if loaded.Thresholds.DistressCall > 0 {
		tuning.Thresholds.DistressCall = loaded.Thresholds.DistressCall
	}
	if loaded.Thresholds.ThreateningVoice > 0 {
		tuning.Thresholds.ThreateningVoice = loaded.Thresholds.ThreateningVoice
	}
	if loaded.Thresholds.LoudNoise > 0 {
		tuning.Thresholds.LoudNoise = loaded.Thresholds.LoudNoise
	}
	if len(loaded.Keywords) > 0 {
		tuning.Keywords = loaded.Keywords
	}

	return tuning, nil
}
