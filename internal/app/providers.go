package app

import (
	"fmt"

	"github.com/MrWong99/wordcut/internal/config"
	"github.com/MrWong99/wordcut/internal/takes"
	"github.com/MrWong99/wordcut/internal/takes/phonetic"
	"github.com/MrWong99/wordcut/pkg/provider/llm"
	"github.com/MrWong99/wordcut/pkg/provider/llm/anyllm"
)

// RegisterBuiltins wires all built-in provider factories into reg.
// Every LLM backend supported by any-llm-go is registered under its own name.
func RegisterBuiltins(reg *config.Registry) {
	reg.RegisterClassifier("phonetic", func(cfg config.TakesConfig) (takes.Classifier, error) {
		var opts []phonetic.Option
		if cfg.Threshold > 0 {
			opts = append(opts, phonetic.WithThreshold(cfg.Threshold))
		}
		if cfg.MinWords > 0 && cfg.MaxWords >= cfg.MinWords {
			opts = append(opts, phonetic.WithWindow(cfg.MinWords, cfg.MaxWords))
		}
		return phonetic.New(opts...), nil
	})

	for _, name := range config.ValidProviderNames["llm"] {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			p, err := anyllm.New(name, entry.Model, anyllm.Options(entry.APIKey, entry.BaseURL)...)
			if err != nil {
				return nil, fmt.Errorf("anyllm %s: %w", name, err)
			}
			return p, nil
		})
	}
}
