package agents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/perceptualart/torbobase-sub002/internal/bus"
	"github.com/perceptualart/torbobase-sub002/internal/store"
	"github.com/perceptualart/torbobase-sub002/pkg/protocol"
)

// Registry serves agents from an in-memory map backed by one JSON file per
// agent. All mutations are serialized; readers see either pre- or
// post-update state, never a torn record.
type Registry struct {
	mu     sync.RWMutex
	dir    string
	agents map[string]*Agent
	pub    bus.EventPublisher
}

// NewRegistry loads agents from dir, seeds missing built-ins, and applies
// the built-in upgrade policy.
func NewRegistry(dir string, pub bus.EventPublisher) (*Registry, error) {
	r := &Registry{
		dir:    dir,
		agents: make(map[string]*Agent),
		pub:    pub,
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create agents dir: %w", err)
	}
	if err := r.loadAll(); err != nil {
		return nil, err
	}
	if err := r.seedBuiltins(); err != nil {
		return nil, err
	}
	return r, nil
}

// loadAll reads every agent file. An undecodable file logs a warning and is
// skipped; it never aborts startup.
func (r *Registry) loadAll() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read agents dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		var a Agent
		if err := store.ReadJSON(path, &a); err != nil {
			slog.Warn("skipping undecodable agent file", "path", path, "error", err)
			continue
		}
		if !ValidID(a.ID) {
			slog.Warn("skipping agent with invalid id", "path", path, "id", a.ID)
			continue
		}
		r.agents[a.ID] = &a
	}
	return nil
}

// seedBuiltins creates missing built-in agents and upgrades identity fields
// still carrying previously shipped defaults. User customizations are
// preserved.
func (r *Registry) seedBuiltins() error {
	now := time.Now().UTC()
	for _, def := range builtinDefaults(now) {
		existing, ok := r.agents[def.ID]
		if !ok {
			def.LastModifiedAt = now
			if err := r.save(def); err != nil {
				return fmt.Errorf("seed built-in %s: %w", def.ID, err)
			}
			r.agents[def.ID] = def
			slog.Info("seeded built-in agent", "agent", def.ID)
			continue
		}
		existing.BuiltIn = true
		if upgradeBuiltin(existing) {
			existing.LastModifiedAt = now
			if err := r.save(existing); err != nil {
				return fmt.Errorf("upgrade built-in %s: %w", def.ID, err)
			}
			slog.Info("upgraded built-in agent defaults", "agent", def.ID)
		}
	}
	return nil
}

// Get returns a copy of the agent, or ErrNotFound.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// List returns all agents: the default agent first, then the rest ordered
// case-insensitively by name.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		list = append(list, a.Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		if (list[i].ID == DefaultAgentID) != (list[j].ID == DefaultAgentID) {
			return list[i].ID == DefaultAgentID
		}
		return strings.ToLower(list[i].Name) < strings.ToLower(list[j].Name)
	})
	return list
}

// Create adds a new agent. The built-in flag cannot be set through create.
func (r *Registry) Create(a *Agent) error {
	if !ValidID(a.ID) {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[a.ID]; ok {
		return ErrIDExists
	}

	cp := a.Clone()
	cp.BuiltIn = false
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.LastModifiedAt = now

	if err := r.save(cp); err != nil {
		return err
	}
	r.agents[cp.ID] = cp
	r.broadcast(protocol.EventAgentChanged, cp.ID, "created")
	return nil
}

// Update replaces an agent's fields. The stored built-in flag and creation
// time are preserved regardless of input.
func (r *Registry) Update(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.agents[a.ID]
	if !ok {
		return ErrNotFound
	}

	cp := a.Clone()
	cp.BuiltIn = existing.BuiltIn
	cp.CreatedAt = existing.CreatedAt
	cp.LastModifiedAt = time.Now().UTC()

	if err := r.save(cp); err != nil {
		return err
	}
	r.agents[cp.ID] = cp
	r.broadcast(protocol.EventAgentChanged, cp.ID, "updated")
	return nil
}

// Delete removes a user agent. Built-ins cannot be deleted. The
// agent.deleted event is how IAM collaborators revoke grants referencing
// the id.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	if a.BuiltIn {
		return ErrBuiltIn
	}

	if err := os.Remove(r.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete agent file: %w", err)
	}
	delete(r.agents, id)
	r.broadcast(protocol.EventAgentDeleted, id, "deleted")
	return nil
}

// Reset restores a built-in to shipped defaults, or reverts a user agent's
// personality fields to the neutral template, keeping id, name, and role.
func (r *Registry) Reset(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	var next *Agent
	if existing.BuiltIn {
		for _, def := range builtinDefaults(now) {
			if def.ID == id {
				next = def
				break
			}
		}
		if next == nil {
			return ErrNotFound
		}
		next.CreatedAt = existing.CreatedAt
	} else {
		next = existing.Clone()
		neutralTemplate(next)
	}
	next.LastModifiedAt = now

	if err := r.save(next); err != nil {
		return err
	}
	r.agents[id] = next
	r.broadcast(protocol.EventAgentChanged, id, "reset")
	return nil
}

// Export serializes an agent to its on-disk JSON form.
func (r *Registry) Export(id string) ([]byte, error) {
	a, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return store.MarshalSorted(a)
}

// Import creates or updates an agent from exported bytes. The built-in flag
// is always forced to false; an import can never overwrite a built-in.
func (r *Registry) Import(data []byte) (*Agent, error) {
	var a Agent
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode agent: %w", err)
	}
	if !ValidID(a.ID) {
		return nil, ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.agents[a.ID]; ok && existing.BuiltIn {
		return nil, ErrBuiltIn
	}

	cp := a.Clone()
	cp.BuiltIn = false
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.LastModifiedAt = now

	if err := r.save(cp); err != nil {
		return nil, err
	}
	r.agents[cp.ID] = cp
	r.broadcast(protocol.EventAgentChanged, cp.ID, "updated")
	return cp.Clone(), nil
}

func (r *Registry) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}

func (r *Registry) save(a *Agent) error {
	if err := store.WriteJSONAtomic(r.path(a.ID), a); err != nil {
		return fmt.Errorf("persist agent %s: %w", a.ID, err)
	}
	return nil
}

func (r *Registry) broadcast(event, id, action string) {
	if r.pub == nil {
		return
	}
	r.pub.Broadcast(bus.Event{
		Name:    event,
		Payload: bus.AgentChangedPayload{AgentID: id, Action: action},
	})
}
