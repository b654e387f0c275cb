package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/wordcut/internal/takes"
	"github.com/MrWong99/wordcut/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is a name-keyed constructor table for one provider kind.
type factories[C, P any] map[string]func(C) (P, error)

// lookup finds the factory for name. Callers hold the registry lock only for
// the lookup so factories may use the registry themselves.
func (f factories[C, P]) lookup(kind, name string) (func(C) (P, error), error) {
	factory, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, name)
	}
	return factory, nil
}

// Registry maps provider names to constructors, one table per provider kind.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	llm         factories[ProviderEntry, llm.Provider]
	classifiers factories[TakesConfig, takes.Classifier]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:         factories[ProviderEntry, llm.Provider]{},
		classifiers: factories[TakesConfig, takes.Classifier]{},
	}
}

// RegisterLLM registers an LLM provider factory under name, replacing any
// earlier registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	r.llm[name] = factory
	r.mu.Unlock()
}

// RegisterClassifier registers a take classifier factory under name.
func (r *Registry) RegisterClassifier(name string, factory func(TakesConfig) (takes.Classifier, error)) {
	r.mu.Lock()
	r.classifiers[name] = factory
	r.mu.Unlock()
}

// HasLLM reports whether an LLM factory is registered under name.
func (r *Registry) HasLLM(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.llm[name]
	return ok
}

// LLMNames returns the registered LLM provider names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.llm))
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
// Unknown names wrap [ErrProviderNotRegistered].
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, err := r.llm.lookup("llm", entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateClassifier instantiates the take classifier named by cfg.Classifier.
// "none" yields a nil classifier and no error.
func (r *Registry) CreateClassifier(cfg TakesConfig) (takes.Classifier, error) {
	if cfg.Classifier == "none" {
		return nil, nil
	}
	r.mu.RLock()
	factory, err := r.classifiers.lookup("classifier", cfg.Classifier)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(cfg)
}
