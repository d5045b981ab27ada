// Package privacy implements reversible PII redaction for payloads that
// egress to a remote provider. Each session keeps a bijection from original
// substrings to placeholder tokens so assistant text can be restored before
// it reaches the client.
package privacy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Session holds the redaction map for one client session. The map lives in
// memory only; a process restart between redaction and restoration leaves
// placeholders visible, which is accepted.
type Session struct {
	mu            sync.Mutex
	byOriginal    map[string]string
	byPlaceholder map[string]string
	counter       int
}

// NewSession returns an empty redaction session.
func NewSession() *Session {
	return &Session{
		byOriginal:    make(map[string]string),
		byPlaceholder: make(map[string]string),
	}
}

// Redact replaces every enabled-pattern match in text with its placeholder.
// The same original always maps to the same placeholder within the session;
// new placeholders number in order of appearance in the text.
func (s *Session) Redact(text string, level Level) string {
	if level == LevelOff || text == "" {
		return text
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type span struct {
		start, end int
		kind       string
	}
	var found []span
	for _, p := range patterns {
		if !p.applies(text, level) {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			found = append(found, span{loc[0], loc[1], p.kind})
		}
	}
	if len(found) == 0 {
		return text
	}

	// Earlier table entries are more specific and win overlaps.
	kept := found[:0]
	for _, m := range found {
		overlaps := false
		for _, k := range kept {
			if m.start < k.end && k.start < m.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })

	// Mint placeholders left-to-right so numbering follows the text.
	placeholders := make([]string, len(kept))
	for i, m := range kept {
		placeholders[i] = s.placeholderFor(text[m.start:m.end], m.kind)
	}

	// Substitute right-to-left so earlier byte offsets stay valid.
	for i := len(kept) - 1; i >= 0; i-- {
		text = text[:kept[i].start] + placeholders[i] + text[kept[i].end:]
	}
	return text
}

// placeholderFor returns the session placeholder for original, minting one
// on first sight. Caller holds s.mu.
func (s *Session) placeholderFor(original, kind string) string {
	if ph, ok := s.byOriginal[original]; ok {
		return ph
	}
	ph := fmt.Sprintf("[%s_REDACTED]_%d", kind, s.counter)
	s.counter++
	s.byOriginal[original] = ph
	s.byPlaceholder[ph] = original
	return ph
}

// Restore substitutes placeholders back to their originals, longest
// placeholder first so "_1" never clips "_12".
func (s *Session) Restore(text string) string {
	if text == "" {
		return text
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.byPlaceholder) == 0 {
		return text
	}

	placeholders := make([]string, 0, len(s.byPlaceholder))
	for ph := range s.byPlaceholder {
		placeholders = append(placeholders, ph)
	}
	sort.Slice(placeholders, func(i, j int) bool {
		if len(placeholders[i]) != len(placeholders[j]) {
			return len(placeholders[i]) > len(placeholders[j])
		}
		return placeholders[i] < placeholders[j]
	})

	for _, ph := range placeholders {
		text = strings.ReplaceAll(text, ph, s.byPlaceholder[ph])
	}
	return text
}

// Clear drops the session's redaction map.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOriginal = make(map[string]string)
	s.byPlaceholder = make(map[string]string)
	s.counter = 0
}

// Len returns the number of originals tracked by the session.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byOriginal)
}

// RedactorFor returns a func suitable for a provider request's Redact hook.
func (s *Session) RedactorFor(level Level) func(string) string {
	if level == LevelOff {
		return nil
	}
	return func(text string) string { return s.Redact(text, level) }
}

