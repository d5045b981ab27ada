package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/perceptualart/torbobase-sub002/internal/agents"
	"github.com/perceptualart/torbobase-sub002/internal/providers"
)

// MemorySource retrieves vector memories formatted for prompt injection.
type MemorySource interface {
	RetrieveBlock(ctx context.Context, userMessage string, tail []string) (string, error)
}

// LegacySource renders the structured memory documents as prompt text.
// Empty string means nothing worth including.
type LegacySource interface {
	PromptBlock() string
}

// Skill is one loadable prompt extension.
type Skill struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Prompt         string `json:"prompt"`
	MinAccessLevel int    `json:"min_access_level"`
}

// SkillSource lists the skills enabled at an access level.
type SkillSource interface {
	Enabled(accessLevel int) []Skill
}

// CommitmentSource supplies pending commitments or nudges for the agent.
type CommitmentSource interface {
	Pending(agentID string) []string
}

// DebateSynthesizer produces a multi-perspective synthesis for decision
// questions.
type DebateSynthesizer interface {
	Synthesize(ctx context.Context, question string) (string, error)
}

// Input is everything the assembler needs for one request.
type Input struct {
	Agent        *agents.Agent
	UserMessage  string
	Platform     string
	Tail         []string // last few turns, oldest first
	ClientSystem bool     // request already carried a system message
	AccessLevel  int      // effective level, already min'd with global
	Tools        []string
	Model        string
	Budget       int // max tokens for the assembled block
}

// Assembler composes the system prompt from its contributing sources.
// Nil collaborators skip their sections.
type Assembler struct {
	memories    MemorySource
	legacy      LegacySource
	skills      SkillSource
	commitments CommitmentSource
	debate      DebateSynthesizer
	estimator   *Estimator
}

func NewAssembler(memories MemorySource, legacy LegacySource, skills SkillSource,
	commitments CommitmentSource, debate DebateSynthesizer) *Assembler {
	return &Assembler{
		memories:    memories,
		legacy:      legacy,
		skills:      skills,
		commitments: commitments,
		debate:      debate,
		estimator:   NewEstimator(),
	}
}

// Assemble builds the system-prompt block. Sections come in a fixed order
// and are dropped whole, lowest priority first, when the block would exceed
// the budget. The identity block is mandatory when the client did not supply
// its own system message, even if it alone overflows.
func (a *Assembler) Assemble(ctx context.Context, in Input) string {
	sections := make([]string, 0, 7)

	if !in.ClientSystem && in.Agent != nil {
		sections = append(sections, identityBlock(in.Agent, in.AccessLevel))
	}

	if note := PlatformNote(in.Platform); note != "" {
		sections = append(sections, note)
	}

	if a.memories != nil {
		block, err := a.memories.RetrieveBlock(ctx, in.UserMessage, in.Tail)
		if err != nil {
			slog.Warn("memory retrieval failed, assembling without", "error", err)
		} else if block != "" {
			sections = append(sections, Sanitize(block))
		}
	}

	if a.legacy != nil {
		if block := a.legacy.PromptBlock(); block != "" {
			sections = append(sections, Sanitize(block))
		}
	}

	if !in.ClientSystem && a.skills != nil && in.Agent != nil {
		if block := skillsBlock(a.skills.Enabled(in.AccessLevel), in.Agent.EnabledSkills); block != "" {
			sections = append(sections, block)
		}
	}

	if a.commitments != nil && in.Agent != nil {
		if pending := a.commitments.Pending(in.Agent.ID); len(pending) > 0 {
			sections = append(sections, "Open commitments to keep in mind:\n- "+strings.Join(pending, "\n- "))
		}
	}

	if a.debate != nil && IsDecisionQuestion(in.UserMessage) {
		if synthesis, err := a.debate.Synthesize(ctx, in.UserMessage); err == nil && synthesis != "" {
			sections = append(sections, "Perspectives considered:\n"+synthesis)
		}
	}

	mandatory := 0
	if !in.ClientSystem && in.Agent != nil {
		mandatory = 1
	}

	// Drop whole sections from the end until the block fits. The identity
	// block is never dropped; it may overflow alone.
	if in.Budget > 0 {
		for len(sections) > mandatory && a.estimator.Count(in.Model, strings.Join(sections, "\n\n")) > in.Budget {
			sections = sections[:len(sections)-1]
		}
	}

	return strings.Join(sections, "\n\n")
}

// MergeSystem folds the assembled block into the message list: appended to
// an existing system message with a blank-line separator, or inserted as a
// new system message at position 0.
func MergeSystem(messages []providers.Message, block string) []providers.Message {
	if block == "" {
		return messages
	}
	for i := range messages {
		if messages[i].Role == "system" {
			messages[i].Content = messages[i].Content + "\n\n" + block
			return messages
		}
	}
	out := make([]providers.Message, 0, len(messages)+1)
	out = append(out, providers.Message{Role: "system", Content: block})
	return append(out, messages...)
}

// identityBlock renders the agent's persona and rules.
func identityBlock(a *agents.Agent, accessLevel int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", a.Name)
	if a.Pronouns != "" {
		fmt.Fprintf(&b, " (%s)", a.Pronouns)
	}
	if a.Role != "" {
		fmt.Fprintf(&b, ", %s", strings.ToLower(a.Role[:1])+a.Role[1:])
	}
	b.WriteString(".\n")

	if a.VoiceTone != "" {
		b.WriteString("Voice: " + a.VoiceTone + "\n")
	}
	if a.CoreValues != "" {
		b.WriteString("Core values: " + a.CoreValues + "\n")
	}
	fmt.Fprintf(&b, "Access level: %d of 5.\n", accessLevel)

	if a.TopicsToAvoid != "" {
		b.WriteString("Do not engage with these topics: " + a.TopicsToAvoid + ".\n")
	}
	if a.CustomInstructions != "" {
		b.WriteString("\n" + a.CustomInstructions + "\n")
	}
	if a.BackgroundKnowledge != "" {
		b.WriteString("\nBackground:\n" + a.BackgroundKnowledge + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// skillsBlock renders the skills available to the agent. An empty
// enabled-skill list on the agent means all skills are allowed.
func skillsBlock(available []Skill, enabledIDs []string) string {
	allowed := available
	if len(enabledIDs) > 0 {
		wanted := make(map[string]bool, len(enabledIDs))
		for _, id := range enabledIDs {
			wanted[id] = true
		}
		allowed = allowed[:0:0]
		for _, s := range available {
			if wanted[s.ID] {
				allowed = append(allowed, s)
			}
		}
	}
	if len(allowed) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Available skills:\n")
	for _, s := range allowed {
		fmt.Fprintf(&b, "\n## %s\n%s\n", s.Name, s.Prompt)
	}
	return strings.TrimRight(b.String(), "\n")
}

// decisionMarkers are phrases that suggest the user is weighing options.
var decisionMarkers = []string{
	"should i", "should we", "which is better", "which one", "or should",
	"pros and cons", "trade-off", "tradeoff", "decide between", "choose between",
	"is it worth", "would you recommend", "what would you pick",
}

// IsDecisionQuestion is a cheap heuristic: a question mark plus at least one
// decision phrase, or two decision phrases without one.
func IsDecisionQuestion(text string) bool {
	lower := strings.ToLower(text)
	hits := 0
	for _, marker := range decisionMarkers {
		if strings.Contains(lower, marker) {
			hits++
		}
	}
	if hits == 0 {
		return false
	}
	return strings.Contains(lower, "?") || hits >= 2
}
