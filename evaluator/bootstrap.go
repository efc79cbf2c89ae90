package evaluator

import (
	"fmt"

	"github.com/snow-ghost/fuzzyeval/core"
	"github.com/snow-ghost/fuzzyeval/food"
	"github.com/snow-ghost/fuzzyeval/pkg/journal"
	"github.com/snow-ghost/fuzzyeval/pkg/observability"
	"github.com/snow-ghost/fuzzyeval/pkg/registry"
)

// LoadDefinition returns the YAML or TOML definition at config.ModelConfig, or the
// compiled-in food model when no path is set.
func LoadDefinition(config *Config) (*registry.Definition, error) {
	if config.ModelConfig != "" {
		def, err := registry.NewLoader(config.ModelConfig).LoadDefinition()
		if err != nil {
			return nil, fmt.Errorf("load model %s: %w", config.ModelConfig, err)
		}
		if config.Defuzzifier != "" && def.Defuzzifier == "" {
			def.Defuzzifier = config.Defuzzifier
		}
		return def, nil
	}

	method, err := core.ParseMethod(config.Defuzzifier)
	if err != nil {
		return nil, err
	}
	opts := []food.Option{food.WithDefuzzifier(method)}
	if config.IncludeRule13 {
		opts = append(opts, food.WithRule13())
	}
	return food.Definition(opts...), nil
}

// New builds the service described by config: model, cache and journal.
// obs may be nil.
func New(config *Config, obs *observability.Manager) (*Service, error) {
	def, err := LoadDefinition(config)
	if err != nil {
		return nil, err
	}

	sys, err := registry.Build(def)
	if err != nil {
		return nil, fmt.Errorf("build model %s: %w", def.Name, err)
	}

	j, err := journal.Open(journal.Config{
		Driver:     config.JournalDriver,
		Path:       config.JournalPath,
		MaxRecords: config.JournalMax,
	})
	if err != nil {
		return nil, err
	}

	svc, err := NewService(sys, Options{
		Name:             def.Name,
		CacheSize:        config.CacheSize,
		CacheTTL:         config.CacheTTL,
		Journal:          j,
		Observability:    obs,
		MaxBatch:         config.MaxBatch,
		BatchParallelism: config.BatchParallelism,
	})
	if err != nil {
		j.Close()
		return nil, err
	}
	return svc, nil
}
