package providers

import (
	"sort"
	"strings"
	"sync"
)

// localProviderName is the backend whose traffic never leaves the machine.
const localProviderName = "ollama"

// Registry maps backend names and model ids to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// modelPrefixes maps a model-id prefix to the backend that serves it.
// Checked in order; first match wins.
var modelPrefixes = []struct {
	prefix   string
	provider string
}{
	{"gpt-", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"o4", "openai"},
	{"chatgpt-", "openai"},
	{"text-embedding-", "openai"},
	{"claude-", "anthropic"},
	{"gemini-", "gemini"},
	{"models/gemini-", "gemini"},
}

// ForModel resolves the provider that serves a model id. Unknown prefixes
// fall back to the local backend.
func (r *Registry) ForModel(model string) (Provider, bool) {
	name := ProviderNameForModel(model)
	return r.Get(name)
}

// ProviderNameForModel returns the backend name a model id maps to.
func ProviderNameForModel(model string) string {
	lower := strings.ToLower(model)
	for _, entry := range modelPrefixes {
		if strings.HasPrefix(lower, entry.prefix) {
			return entry.provider
		}
	}
	return localProviderName
}

// IsLocal reports whether the named backend runs on this machine, meaning
// its traffic is exempt from privacy redaction.
func IsLocal(name string) bool {
	return name == localProviderName
}
