// Package agents implements the agent registry: identity, permissions,
// model preference, and token budgets, persisted one JSON file per agent.
package agents

import (
	"errors"
	"regexp"
	"time"
)

var (
	ErrNotFound  = errors.New("agent not found")
	ErrIDExists  = errors.New("agent id already exists")
	ErrInvalidID = errors.New("invalid agent id")
	ErrBuiltIn   = errors.New("cannot delete built-in agent")
)

var slugRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidID reports whether id is a legal agent slug.
func ValidID(id string) bool {
	return id != "" && slugRe.MatchString(id)
}

// Agent is one registered personality + permission set.
type Agent struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Pronouns            string          `json:"pronouns,omitempty"`
	Role                string          `json:"role,omitempty"`
	VoiceTone           string          `json:"voice_tone,omitempty"`
	CoreValues          string          `json:"core_values,omitempty"`
	TopicsToAvoid       string          `json:"topics_to_avoid,omitempty"`
	CustomInstructions  string          `json:"custom_instructions,omitempty"`
	BackgroundKnowledge string          `json:"background_knowledge,omitempty"`
	PreferredModel      string          `json:"preferred_model,omitempty"` // empty = defer to caller
	AccessLevel         int             `json:"access_level"`              // 0-5
	AllowedPaths        []string        `json:"allowed_paths,omitempty"`   // empty = global sandbox
	EnabledSkills       []string        `json:"enabled_skills,omitempty"`  // empty = all
	Capabilities        map[string]bool `json:"capabilities,omitempty"`    // absent category = enabled
	DailyTokenLimit     int64           `json:"daily_token_limit,omitempty"`
	WeeklyTokenLimit    int64           `json:"weekly_token_limit,omitempty"`
	MonthlyTokenLimit   int64           `json:"monthly_token_limit,omitempty"`
	HardStopOnBudget    bool            `json:"hard_stop_on_budget,omitempty"`
	BuiltIn             bool            `json:"built_in"`
	CreatedAt           time.Time       `json:"created_at"`
	LastModifiedAt      time.Time       `json:"last_modified_at"`
}

// Clone returns a deep copy so callers never share mutable state with the
// registry's in-memory map.
func (a *Agent) Clone() *Agent {
	cp := *a
	if a.AllowedPaths != nil {
		cp.AllowedPaths = append([]string(nil), a.AllowedPaths...)
	}
	if a.EnabledSkills != nil {
		cp.EnabledSkills = append([]string(nil), a.EnabledSkills...)
	}
	if a.Capabilities != nil {
		cp.Capabilities = make(map[string]bool, len(a.Capabilities))
		for k, v := range a.Capabilities {
			cp.Capabilities[k] = v
		}
	}
	return &cp
}

// CapabilityEnabled reports whether a capability category is enabled for
// the agent. Absent categories default to enabled.
func (a *Agent) CapabilityEnabled(category string) bool {
	if a.Capabilities == nil {
		return true
	}
	enabled, ok := a.Capabilities[category]
	return !ok || enabled
}

// TokenLimit returns the limit for a budget window name; 0 means unlimited.
func (a *Agent) TokenLimit(window string) int64 {
	switch window {
	case "day":
		return a.DailyTokenLimit
	case "week":
		return a.WeeklyTokenLimit
	case "month":
		return a.MonthlyTokenLimit
	}
	return 0
}

// neutralTemplate resets personality fields for user agents, keeping
// id, name, and role.
func neutralTemplate(a *Agent) {
	a.Pronouns = ""
	a.VoiceTone = "Clear and helpful."
	a.CoreValues = ""
	a.TopicsToAvoid = ""
	a.CustomInstructions = ""
	a.BackgroundKnowledge = ""
}
