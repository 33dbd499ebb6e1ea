package tasks

import (
	"encoding/json"
	"fmt"
)

// Type tags the task-type variant. Each variant owns its own config
// schema; the validator and the dispatch message builder both switch on
// the tag.
type Type string

const (
	TypeOpenClawNative  Type = "openclaw-native"
	TypeClaudeTeam      Type = "claude-team"
	TypeMultiHypothesis Type = "multi-hypothesis"
)

// Types lists every known task type.
var Types = []Type{TypeOpenClawNative, TypeClaudeTeam, TypeMultiHypothesis}

// ValidType reports whether t is a known task type.
func ValidType(t Type) bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}

// OpenClawNativeConfig has no required fields; the agent runs the task
// with its default toolset.
type OpenClawNativeConfig struct{}

// ClaudeTeamConfig configures a team of orchestrated workers.
type ClaudeTeamConfig struct {
	TeamSize    int      `json:"team_size"`
	TeamMembers []string `json:"team_members"`
	Model       string   `json:"model,omitempty"`
}

// MultiHypothesisConfig configures parallel hypothesis exploration.
type MultiHypothesisConfig struct {
	Hypotheses  []string `json:"hypotheses"`
	Coordinator string   `json:"coordinator,omitempty"`
}

// TypeConfig is the tagged union of per-task-type configuration. Exactly
// one variant is set, matching the task's Type.
type TypeConfig struct {
	OpenClawNative  *OpenClawNativeConfig  `json:"openclaw_native,omitempty"`
	ClaudeTeam      *ClaudeTeamConfig      `json:"claude_team,omitempty"`
	MultiHypothesis *MultiHypothesisConfig `json:"multi_hypothesis,omitempty"`
}

// DecodeTypeConfig parses a raw config payload for the given task type.
// Unknown fields inside the payload are tolerated; a payload of the wrong
// shape is a validation error.
func DecodeTypeConfig(t Type, raw json.RawMessage) (TypeConfig, error) {
	var cfg TypeConfig
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	switch t {
	case TypeOpenClawNative, "":
		var c OpenClawNativeConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return cfg, fmt.Errorf("openclaw-native config: %w", err)
		}
		cfg.OpenClawNative = &c
	case TypeClaudeTeam:
		var c ClaudeTeamConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return cfg, fmt.Errorf("claude-team config: %w", err)
		}
		cfg.ClaudeTeam = &c
	case TypeMultiHypothesis:
		var c MultiHypothesisConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return cfg, fmt.Errorf("multi-hypothesis config: %w", err)
		}
		cfg.MultiHypothesis = &c
	default:
		return cfg, fmt.Errorf("unknown task type %q", t)
	}
	return cfg, nil
}

// Validate checks the variant's schema constraints.
func (c TypeConfig) Validate(t Type) error {
	switch t {
	case TypeOpenClawNative, "":
		return nil
	case TypeClaudeTeam:
		if c.ClaudeTeam == nil {
			return fmt.Errorf("claude-team config missing")
		}
		if c.ClaudeTeam.TeamSize <= 0 {
			return fmt.Errorf("claude-team: team_size must be positive")
		}
		if len(c.ClaudeTeam.TeamMembers) > 0 && len(c.ClaudeTeam.TeamMembers) != c.ClaudeTeam.TeamSize {
			return fmt.Errorf("claude-team: team_members count does not match team_size")
		}
		return nil
	case TypeMultiHypothesis:
		if c.MultiHypothesis == nil {
			return fmt.Errorf("multi-hypothesis config missing")
		}
		if len(c.MultiHypothesis.Hypotheses) == 0 {
			return fmt.Errorf("multi-hypothesis: at least one hypothesis required")
		}
		return nil
	default:
		return fmt.Errorf("unknown task type %q", t)
	}
}

// TypeSchema describes a task type for the /task-types listing.
type TypeSchema struct {
	Type        Type           `json:"type"`
	Description string         `json:"description"`
	ConfigShape map[string]any `json:"config_shape,omitempty"`
}

// TypeSchemas returns the discoverable task-type catalogue.
func TypeSchemas() []TypeSchema {
	return []TypeSchema{
		{
			Type:        TypeOpenClawNative,
			Description: "Single agent running with its native toolset",
		},
		{
			Type:        TypeClaudeTeam,
			Description: "Team of orchestrated worker agents",
			ConfigShape: map[string]any{
				"team_size":    "int, required",
				"team_members": "[]string, optional, must match team_size when set",
				"model":        "string, optional",
			},
		},
		{
			Type:        TypeMultiHypothesis,
			Description: "Parallel exploration of competing hypotheses",
			ConfigShape: map[string]any{
				"hypotheses":  "[]string, required, non-empty",
				"coordinator": "string, optional",
			},
		},
	}
}
