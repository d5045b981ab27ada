// Package skills loads prompt-extension skills from JSON files and reloads
// them when the directory changes.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/perceptualart/torbobase-sub002/internal/prompt"
	"github.com/perceptualart/torbobase-sub002/internal/store"
)

// Loader serves the skills found in a directory of *.json files. Files are
// loaded eagerly and reloaded on filesystem changes.
type Loader struct {
	mu     sync.RWMutex
	dir    string
	skills map[string]prompt.Skill
}

// NewLoader ensures the skills directory exists and loads it.
func NewLoader(dir string) (*Loader, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create skills dir: %w", err)
	}
	l := &Loader{dir: dir, skills: make(map[string]prompt.Skill)}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Enabled returns the skills available at the given access level, sorted by
// id for stable prompt output.
func (l *Loader) Enabled(accessLevel int) []prompt.Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]prompt.Skill, 0, len(l.skills))
	for _, s := range l.skills {
		if s.MinAccessLevel <= accessLevel {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every loaded skill regardless of access level.
func (l *Loader) All() []prompt.Skill {
	return l.Enabled(int(^uint(0) >> 1))
}

func (l *Loader) reload() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read skills dir: %w", err)
	}

	loaded := make(map[string]prompt.Skill)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var s prompt.Skill
		if err := store.ReadJSON(filepath.Join(l.dir, entry.Name()), &s); err != nil {
			slog.Warn("skipping unreadable skill file", "file", entry.Name(), "error", err)
			continue
		}
		if s.ID == "" || s.Prompt == "" {
			slog.Warn("skipping skill without id or prompt", "file", entry.Name())
			continue
		}
		loaded[s.ID] = s
	}

	l.mu.Lock()
	l.skills = loaded
	l.mu.Unlock()
	slog.Debug("skills loaded", "count", len(loaded))
	return nil
}

// Watch reloads the directory on any create, write, remove, or rename until
// ctx is cancelled. Reload failures are logged; the last good set stays
// served.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create skills watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch skills dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := l.reload(); err != nil {
				slog.Warn("skills reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("skills watcher error", "error", err)
		}
	}
}
