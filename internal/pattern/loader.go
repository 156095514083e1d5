package pattern

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/causeway/internal/models"
)

// patternFile is the on-disk schema of a pattern library file.
type patternFile struct {
	Patterns []patternDef `yaml:"patterns"`
}

// patternDef represents a single pattern definition from YAML
type patternDef struct {
	Name      string    `yaml:"name"`
	Type      string    `yaml:"type"`
	Certainty float64   `yaml:"certainty"`
	Steps     []stepDef `yaml:"steps"`
}

// stepDef represents one pattern step from YAML. MaxLag uses Go duration
// syntax, e.g. "15m" or "1h30m".
type stepDef struct {
	Source    string `yaml:"source"`
	EventType string `yaml:"event_type"`
	MaxLag    string `yaml:"max_lag"`
}

// LoadFile reads pattern definitions from a YAML file. Definitions are
// returned in file order so registration preserves the author's intended
// precedence.
func LoadFile(path string) ([]Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}

	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pattern file: %w", err)
	}

	patterns := make([]Pattern, 0, len(file.Patterns))
	for _, def := range file.Patterns {
		p, err := compile(def)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// compile converts a file definition into a validated Pattern.
func compile(def patternDef) (Pattern, error) {
	p := Pattern{
		Name:      def.Name,
		Type:      models.CorrelationType(def.Type),
		Certainty: def.Certainty,
		Steps:     make([]Step, 0, len(def.Steps)),
	}
	for i, sd := range def.Steps {
		step := Step{Source: sd.Source, EventType: sd.EventType}
		if sd.MaxLag != "" {
			lag, err := time.ParseDuration(sd.MaxLag)
			if err != nil {
				return Pattern{}, fmt.Errorf("pattern %s: step %d: invalid max_lag %q: %w", def.Name, i, sd.MaxLag, err)
			}
			step.MaxLag = lag
		}
		p.Steps = append(p.Steps, step)
	}
	if err := p.Validate(); err != nil {
		return Pattern{}, err
	}
	return p, nil
}
