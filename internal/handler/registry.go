package handler

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotRegistered is returned when a handler name is unknown.
var ErrNotRegistered = errors.New("handler not registered")

// Factory builds a handler. Factories run only when their handler is
// selected, so a builtin that needs credentials does not fail startup
// unless it is actually used.
type Factory func() (Handler, error)

// Registry maps handler names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// BuiltinOptions configures the builtin handlers.
type BuiltinOptions struct {
	TriageModel string
	Classifier  Classifier // overrides the Anthropic classifier (tests)
}

// NewBuiltinRegistry returns a registry holding secrets, ai-triage and
// log-only.
func NewBuiltinRegistry(opts BuiltinOptions) *Registry {
	r := NewRegistry()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(r.Register("secrets", func() (Handler, error) {
		return NewSecrets(), nil
	}))
	must(r.Register("log-only", func() (Handler, error) {
		return LogOnly{}, nil
	}))
	must(r.Register("ai-triage", func() (Handler, error) {
		classifier := opts.Classifier
		if classifier == nil {
			c, err := NewAnthropicClassifier(opts.TriageModel)
			if err != nil {
				return nil, err
			}
			classifier = c
		}
		return NewTriage(NewSecrets(), classifier), nil
	}))
	return r
}

// Register adds a handler factory under name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("handler name is required")
	}
	if f == nil {
		return fmt.Errorf("handler %q has no factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("handler %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// RegisterHandler adds an already built handler under its own name.
func (r *Registry) RegisterHandler(h Handler) error {
	return r.Register(h.Name(), func() (Handler, error) { return h, nil })
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns the configured repo_handler value into a handler. A path
// ending in .so is loaded as a Go plugin and a path ending in .yaml or
// .yml as a pattern handler; anything else must be a registered name.
func (r *Registry) Resolve(name string) (Handler, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".so":
		return LoadPlugin(name)
	case ".yaml", ".yml":
		return LoadPatternFile(name)
	}

	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrNotRegistered, name, strings.Join(r.List(), ", "))
	}

	h, err := f()
	if err != nil {
		return nil, fmt.Errorf("building handler %q: %w", name, err)
	}
	return h, nil
}
