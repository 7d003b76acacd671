package script

import (
	"fmt"
	"sort"
	"sync"
)

// UnknownScriptError is returned when a scenario name has no registered script.
type UnknownScriptError struct {
	Name string
}

func (e *UnknownScriptError) Error() string {
	return fmt.Sprintf("unknown scenario %q", e.Name)
}

// Registry maps scenario names to traffic scripts.
//
// A Registry is populated before use and only read afterwards; Resolve and
// Names are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	scripts map[string]*TrafficScript
}

// NewRegistry creates a registry holding the given scripts.
//
// Returns an error if a script is invalid or a name is registered twice.
func NewRegistry(scripts ...*TrafficScript) (*Registry, error) {
	r := &Registry{scripts: make(map[string]*TrafficScript)}
	for _, s := range scripts {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a script. The registry stores its own copy.
func (r *Registry) Register(s *TrafficScript) error {
	if s == nil {
		return fmt.Errorf("nil script")
	}
	if err := s.Validate(); err != nil {
		return err
	}

	stored := s.Clone()
	if stored.Connection == "" {
		stored.Connection = ConnPersistent
	}
	for gi := range stored.Groups {
		for ri := range stored.Groups[gi].Requests {
			req := &stored.Groups[gi].Requests[ri]
			req.Headers = req.Headers.Canonical()
			if req.Body.Size == "" {
				req.Body.Size = BodyEmpty
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scripts[stored.Name]; exists {
		return fmt.Errorf("scenario %q is already registered", stored.Name)
	}
	r.scripts[stored.Name] = stored
	return nil
}

// Resolve returns a copy of the script registered under name.
func (r *Registry) Resolve(name string) (*TrafficScript, error) {
	r.mu.RLock()
	s, ok := r.scripts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownScriptError{Name: name}
	}
	return s.Clone(), nil
}

// Names returns all registered scenario names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.scripts))
	for name := range r.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent registry holding the same scripts. Scripts
// registered on the clone are not visible in r.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := &Registry{scripts: make(map[string]*TrafficScript, len(r.scripts))}
	for name, s := range r.scripts {
		c.scripts[name] = s
	}
	return c
}

// Len returns the number of registered scripts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scripts)
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry of built-in scenarios.
// It is populated on first use.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		r, err := NewRegistry(Builtin()...)
		if err != nil {
			panic(fmt.Sprintf("script: invalid built-in scenario: %v", err))
		}
		defaultRegistry = r
	})
	return defaultRegistry
}
