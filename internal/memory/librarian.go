package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Extraction is the structured output of one librarian pass.
type Extraction struct {
	Facts        []string          `json:"facts,omitempty"`
	Preferences  map[string]string `json:"preferences,omitempty"`
	Projects     map[string]string `json:"projects,omitempty"` // name -> status
	CurrentTopic string            `json:"current_topic,omitempty"`
	PendingTasks []string          `json:"pending_tasks,omitempty"`
}

type candidate struct {
	text       string
	category   string
	importance float64
}

// candidates flattens the extraction into index records.
func (ex *Extraction) candidates() []candidate {
	var out []candidate
	for _, fact := range ex.Facts {
		if fact = strings.TrimSpace(fact); fact != "" {
			out = append(out, candidate{fact, CategoryFact, 0.6})
		}
	}
	for key, val := range ex.Preferences {
		out = append(out, candidate{
			fmt.Sprintf("user preference: %s = %s", key, val),
			CategoryPreference, 0.7,
		})
	}
	for name, status := range ex.Projects {
		out = append(out, candidate{
			fmt.Sprintf("project %s: %s", name, status),
			CategoryProject, 0.6,
		})
	}
	for _, task := range ex.PendingTasks {
		if task = strings.TrimSpace(task); task != "" {
			out = append(out, candidate{"pending task: " + task, CategoryWorking, 0.5})
		}
	}
	return out
}

const extractPrompt = `Extract long-term memory from this exchange. Respond with JSON only, no prose:
{"facts": ["new durable fact about the user or world", ...],
 "preferences": {"preference key": "value", ...},
 "projects": {"project name": "current status", ...},
 "current_topic": "what the conversation is about now",
 "pending_tasks": ["task the user still needs done", ...]}
Omit keys with nothing new. Do not restate things the assistant said about itself.

USER: %s

ASSISTANT: %s`

// maxExtractInput truncates very long turns before they hit the small model.
const maxExtractInput = 4000

// extract asks the local small model for structured candidates.
func (p *Pool) extract(ctx context.Context, job ExtractJob) (*Extraction, error) {
	if p.completer == nil {
		return nil, fmt.Errorf("no extraction model configured")
	}
	userText := truncate(job.UserText, maxExtractInput)
	assistantText := truncate(job.AssistantText, maxExtractInput)
	if strings.TrimSpace(userText) == "" {
		return nil, nil
	}

	raw, err := p.completer.Complete(ctx, fmt.Sprintf(extractPrompt, userText, assistantText))
	if err != nil {
		return nil, fmt.Errorf("extraction model: %w", err)
	}

	var ex Extraction
	if err := json.Unmarshal([]byte(stripFences(raw)), &ex); err != nil {
		return nil, fmt.Errorf("parse extraction: %w", err)
	}
	return &ex, nil
}

// stripFences removes a markdown code fence wrapper, which small models
// emit even when told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	// Fall back to the outermost JSON object when the model added prose.
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start >= 0 && end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && s[max]&0xC0 == 0x80 {
		max--
	}
	return s[:max]
}
