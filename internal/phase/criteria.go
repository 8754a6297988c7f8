package phase

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/picflow/picflow/internal/model"
	"github.com/picflow/picflow/templates"
)

// CriteriaConfig declares the required exit criteria per transition.
// The embedded default ships with the binary; a .pic/criteria.yaml
// override replaces it wholesale.
type CriteriaConfig struct {
	SchemaVersion int                  `yaml:"schema_version"`
	Transitions   []TransitionCriteria `yaml:"transitions"`
}

type TransitionCriteria struct {
	From     model.PhaseName `yaml:"from"`
	Required []string        `yaml:"required"`
}

const criteriaFileName = "criteria.yaml"

// LoadCriteria returns the workspace override when present, otherwise
// the embedded default.
func LoadCriteria(picDir string) (*CriteriaConfig, error) {
	override := filepath.Join(picDir, criteriaFileName)
	data, err := os.ReadFile(override)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read criteria override: %w", err)
		}
		data, err = templates.FS.ReadFile(criteriaFileName)
		if err != nil {
			return nil, fmt.Errorf("read embedded criteria: %w", err)
		}
	}

	var cfg CriteriaConfig
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse criteria: %w", err)
	}
	for _, t := range cfg.Transitions {
		if !model.ValidPhase(t.From) {
			return nil, fmt.Errorf("criteria name unknown phase %q", t.From)
		}
	}
	return &cfg, nil
}

// Required returns the criteria that must be met to leave phase from.
func (c *CriteriaConfig) Required(from model.PhaseName) []string {
	for _, t := range c.Transitions {
		if t.From == from {
			out := make([]string, len(t.Required))
			copy(out, t.Required)
			return out
		}
	}
	return nil
}

// Checklist is the caller-supplied criterion -> result mapping verified
// against the required set at handoff time.
type Checklist map[string]model.CriterionResult

// Unmet returns the required criteria the checklist does not mark met,
// sorted by their order in the required list.
func (cl Checklist) Unmet(required []string) []string {
	var unmet []string
	for _, c := range required {
		if cl[c] != model.CriterionMet {
			unmet = append(unmet, c)
		}
	}
	return unmet
}
