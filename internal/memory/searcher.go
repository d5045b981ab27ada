package memory

import (
	"context"
	"fmt"
	"strings"
)

// Searcher retrieves the memories relevant to the current turn and formats
// them for prompt injection.
type Searcher struct {
	index    *Index
	topK     int
	minScore float64
}

// NewSearcher uses sensible retrieval defaults when zero values are given.
func NewSearcher(index *Index, topK int, minScore float64) *Searcher {
	if topK <= 0 {
		topK = 5
	}
	if minScore <= 0 {
		minScore = 0.25
	}
	return &Searcher{index: index, topK: topK, minScore: minScore}
}

// RetrieveBlock searches with the user message, expanded with the last few
// conversation turns, and returns a formatted block for the assembler.
// Empty result means no section.
func (s *Searcher) RetrieveBlock(ctx context.Context, userMessage string, tail []string) (string, error) {
	query := expandQuery(userMessage, tail)
	if strings.TrimSpace(query) == "" {
		return "", nil
	}

	records, err := s.index.Search(ctx, query, s.topK, s.minScore)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Relevant memories:\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "- [%s] %s\n", rec.Category, rec.Text)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// expandQuery appends up to the last three turns so pronoun-heavy follow-up
// questions still land near the right memories.
func expandQuery(userMessage string, tail []string) string {
	parts := []string{userMessage}
	keep := 3
	if len(tail) < keep {
		keep = len(tail)
	}
	for _, turn := range tail[len(tail)-keep:] {
		if turn = strings.TrimSpace(turn); turn != "" {
			parts = append(parts, turn)
		}
	}
	return strings.Join(parts, "\n")
}
