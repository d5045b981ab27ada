package memory

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/perceptualart/torbobase-sub002/internal/store"
)

// recentTopicsKeep is the ring size for working.recent_topics.
const recentTopicsKeep = 20

// IdentityDoc describes who the assistant is.
type IdentityDoc struct {
	Name        string `json:"name,omitempty"`
	Personality string `json:"personality,omitempty"`
	VoiceStyle  string `json:"voice_style,omitempty"`
	Origin      string `json:"origin,omitempty"`
}

// UserDoc describes what is known about the user.
type UserDoc struct {
	Name        string            `json:"name,omitempty"`
	Location    string            `json:"location,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	Occupation  string            `json:"occupation,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
	Family      []string          `json:"family,omitempty"`
}

// KnowledgeDoc holds durable facts and project status.
type KnowledgeDoc struct {
	Facts    []string          `json:"facts,omitempty"`
	Projects map[string]string `json:"projects,omitempty"` // name -> status
}

// WorkingDoc is short-lived conversational state.
type WorkingDoc struct {
	CurrentTopic string    `json:"current_topic,omitempty"`
	RecentTopics []string  `json:"recent_topics,omitempty"`
	PendingTasks []string  `json:"pending_tasks,omitempty"`
	LastUpdated  time.Time `json:"last_updated,omitempty"`
}

// LegacyStore is the four human-editable structured memory documents. They
// are kept apart from the vector index because they are high precedence and
// always surfaced. Files are re-read on access so hand edits take effect
// without a restart.
type LegacyStore struct {
	mu  sync.Mutex
	dir string
}

// NewLegacyStore ensures the memory directory exists.
func NewLegacyStore(dir string) (*LegacyStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &LegacyStore{dir: dir}, nil
}

func (s *LegacyStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// readDoc loads one document; a missing or corrupt file yields the zero
// value. Corruption logs a warning rather than failing the request.
func readDoc[T any](s *LegacyStore, name string) T {
	var doc T
	err := store.ReadJSON(s.path(name), &doc)
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("unreadable legacy memory doc", "doc", name, "error", err)
	}
	return doc
}

func (s *LegacyStore) Identity() IdentityDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readDoc[IdentityDoc](s, "identity")
}

func (s *LegacyStore) User() UserDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readDoc[UserDoc](s, "user")
}

func (s *LegacyStore) Knowledge() KnowledgeDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readDoc[KnowledgeDoc](s, "knowledge")
}

func (s *LegacyStore) Working() WorkingDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readDoc[WorkingDoc](s, "working")
}

// SaveIdentity overwrites the identity document.
func (s *LegacyStore) SaveIdentity(doc IdentityDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.WriteJSONAtomic(s.path("identity"), doc)
}

// Merge applies an extraction's structured updates: preferences and project
// status merge, the current topic replaces, recent topics keep the last
// twenty, and pending tasks set-union.
func (s *LegacyStore) Merge(ex *Extraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ex.Preferences) > 0 {
		user := readDoc[UserDoc](s, "user")
		if user.Preferences == nil {
			user.Preferences = make(map[string]string)
		}
		for k, v := range ex.Preferences {
			user.Preferences[k] = v
		}
		if err := store.WriteJSONAtomic(s.path("user"), user); err != nil {
			return err
		}
	}

	if len(ex.Projects) > 0 {
		knowledge := readDoc[KnowledgeDoc](s, "knowledge")
		if knowledge.Projects == nil {
			knowledge.Projects = make(map[string]string)
		}
		for name, status := range ex.Projects {
			knowledge.Projects[name] = status
		}
		if err := store.WriteJSONAtomic(s.path("knowledge"), knowledge); err != nil {
			return err
		}
	}

	if ex.CurrentTopic != "" || len(ex.PendingTasks) > 0 {
		working := readDoc[WorkingDoc](s, "working")
		if ex.CurrentTopic != "" && ex.CurrentTopic != working.CurrentTopic {
			if working.CurrentTopic != "" {
				working.RecentTopics = appendRing(working.RecentTopics, working.CurrentTopic, recentTopicsKeep)
			}
			working.CurrentTopic = ex.CurrentTopic
		}
		working.PendingTasks = union(working.PendingTasks, ex.PendingTasks)
		working.LastUpdated = time.Now().UTC()
		if err := store.WriteJSONAtomic(s.path("working"), working); err != nil {
			return err
		}
	}

	return nil
}

// PromptBlock renders the four documents as a compact block for the system
// prompt. Empty documents produce an empty string.
func (s *LegacyStore) PromptBlock() string {
	s.mu.Lock()
	identity := readDoc[IdentityDoc](s, "identity")
	user := readDoc[UserDoc](s, "user")
	knowledge := readDoc[KnowledgeDoc](s, "knowledge")
	working := readDoc[WorkingDoc](s, "working")
	s.mu.Unlock()

	var lines []string
	if identity.Name != "" {
		lines = append(lines, "Assistant identity: "+identity.Name)
	}
	if identity.Personality != "" {
		lines = append(lines, "Personality: "+identity.Personality)
	}
	if user.Name != "" {
		lines = append(lines, "User: "+user.Name)
	}
	if user.Location != "" {
		lines = append(lines, "Location: "+user.Location)
	}
	if user.Timezone != "" {
		lines = append(lines, "Timezone: "+user.Timezone)
	}
	if user.Occupation != "" {
		lines = append(lines, "Occupation: "+user.Occupation)
	}
	for _, k := range sortedKeys(user.Preferences) {
		lines = append(lines, "Preference: "+k+" = "+user.Preferences[k])
	}
	if len(user.Family) > 0 {
		lines = append(lines, "Family: "+strings.Join(user.Family, ", "))
	}
	for _, fact := range knowledge.Facts {
		lines = append(lines, "Known: "+fact)
	}
	for _, name := range sortedKeys(knowledge.Projects) {
		lines = append(lines, "Project "+name+": "+knowledge.Projects[name])
	}
	if working.CurrentTopic != "" {
		lines = append(lines, "Current topic: "+working.CurrentTopic)
	}
	if len(working.PendingTasks) > 0 {
		lines = append(lines, "Pending tasks: "+strings.Join(working.PendingTasks, "; "))
	}

	if len(lines) == 0 {
		return ""
	}
	return "What you remember:\n" + strings.Join(lines, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Empty reports whether all four documents are absent or zero.
func (s *LegacyStore) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity := readDoc[IdentityDoc](s, "identity")
	user := readDoc[UserDoc](s, "user")
	knowledge := readDoc[KnowledgeDoc](s, "knowledge")
	working := readDoc[WorkingDoc](s, "working")
	return identity == (IdentityDoc{}) &&
		user.Name == "" && user.Location == "" && user.Timezone == "" &&
		user.Occupation == "" && len(user.Preferences) == 0 && len(user.Family) == 0 &&
		len(knowledge.Facts) == 0 && len(knowledge.Projects) == 0 &&
		working.CurrentTopic == "" && len(working.RecentTopics) == 0 && len(working.PendingTasks) == 0
}

func appendRing(ring []string, item string, keep int) []string {
	ring = append(ring, item)
	if len(ring) > keep {
		ring = ring[len(ring)-keep:]
	}
	return ring
}

func union(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range extra {
		if !seen[s] {
			existing = append(existing, s)
			seen[s] = true
		}
	}
	return existing
}
