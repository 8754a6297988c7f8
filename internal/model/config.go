// Package model defines the data structures for picflow's configuration,
// workflow state, and audit/decision/conflict/handoff records.
package model

// Config is the workspace configuration, persisted as .pic/config.yaml.
type Config struct {
	Project ProjectConfig `yaml:"project"`
	Actors  ActorsConfig  `yaml:"actors"`
	Audit   AuditConfig   `yaml:"audit"`
	// SkipPhases lists explicitly permitted phase skips with their
	// rationale; advance refuses any skip not configured here.
	SkipPhases []SkipConfig `yaml:"skip_phases,omitempty"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type ActorsConfig struct {
	// Models optionally overrides the model per role name.
	Models map[string]string `yaml:"models,omitempty"`
	// DefaultModel applies to roles without an override.
	DefaultModel string `yaml:"default_model"`
}

type AuditConfig struct {
	ToolPreviewChars   int `yaml:"tool_preview_chars"`
	PromptPreviewChars int `yaml:"prompt_preview_chars"`
	OutputPreviewChars int `yaml:"output_preview_chars"`
}

type SkipConfig struct {
	From      PhaseName `yaml:"from"`
	To        PhaseName `yaml:"to"`
	Rationale string    `yaml:"rationale"`
}

// DefaultConfig returns the configuration written by init.
func DefaultConfig(projectName string) *Config {
	return &Config{
		Project: ProjectConfig{Name: projectName},
		Actors: ActorsConfig{
			DefaultModel: "default",
		},
		Audit: AuditConfig{
			ToolPreviewChars:   2000,
			PromptPreviewChars: 10000,
			OutputPreviewChars: 50000,
		},
	}
}

// SkipAllowed reports whether a configured skip covers from -> to, and
// returns its rationale when it does.
func (c *Config) SkipAllowed(from, to PhaseName) (string, bool) {
	for _, s := range c.SkipPhases {
		if s.From == from && s.To == to {
			return s.Rationale, true
		}
	}
	return "", false
}
