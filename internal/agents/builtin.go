package agents

import "time"

// DefaultAgentID is the built-in agent every installation carries.
const DefaultAgentID = "torbo"

// builtinDefaults returns the current shipped built-in agents.
func builtinDefaults(now time.Time) []*Agent {
	return []*Agent{
		{
			ID:          DefaultAgentID,
			Name:        "Torbo",
			Pronouns:    "they/them",
			Role:        "General assistant",
			VoiceTone:   currentDefaults["voice_tone"],
			CoreValues:  currentDefaults["core_values"],
			AccessLevel: 3,
			BuiltIn:     true,
			CreatedAt:   now,
		},
	}
}

// currentDefaults are the latest shipped values for built-in identity
// fields. A stored field equal to one of previousDefaults for the same key
// is refreshed to this value on startup.
var currentDefaults = map[string]string{
	"voice_tone":  "Warm, direct, lightly playful. Short sentences over long ones.",
	"core_values": "Be honest about uncertainty. Respect the user's time and privacy.",
	"role":        "General assistant",
}

// previousDefaults lists every value a built-in identity field has shipped
// with in past releases. Matching one of these means the user never
// customized the field, so it is safe to upgrade in place. Any other value
// is a user customization and is preserved.
var previousDefaults = map[string][]string{
	"voice_tone": {
		"Friendly and concise.",
		"Warm and direct.",
		"Warm, direct, lightly playful.",
	},
	"core_values": {
		"Be honest. Be helpful.",
		"Be honest about uncertainty.",
	},
	"role": {
		"Assistant",
		"Personal assistant",
	},
}

// upgradeBuiltin refreshes identity fields still carrying a previously
// shipped default. Returns true if anything changed.
func upgradeBuiltin(a *Agent) bool {
	changed := false
	refresh := func(field string, value *string) {
		latest := currentDefaults[field]
		if *value == latest {
			return
		}
		for _, prev := range previousDefaults[field] {
			if *value == prev {
				*value = latest
				changed = true
				return
			}
		}
	}
	refresh("voice_tone", &a.VoiceTone)
	refresh("core_values", &a.CoreValues)
	refresh("role", &a.Role)
	return changed
}
