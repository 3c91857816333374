package processor

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ValidatorRegistry looks up validators by name
type ValidatorRegistry interface {
	Register(Validator)
	Get(string) (Validator, bool)
	Available() []string
}

// Registry is a central registry for validators
type Registry struct {
	validators map[string]Validator
	mu         sync.RWMutex
}

// NewRegistry creates a new validator registry
func NewRegistry(validators ...Validator) ValidatorRegistry {
	registry := Registry{
		validators: make(map[string]Validator),
	}

	for _, validator := range validators {
		registry.Register(validator)
	}

	return &registry
}

// DefaultRegistry holds every built-in validator
func DefaultRegistry() ValidatorRegistry {
	return NewRegistry(NewRulesValidator(), NewStaticValidator())
}

// Register adds a validator to the registry, replacing one with the same name
func (r *Registry) Register(validator Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.validators[validator.Name()] = validator

	log.Debug().
		Str("validator", validator.Name()).
		Msg("Registered validator")
}

// Get retrieves a validator by name
func (r *Registry) Get(name string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	validator, exists := r.validators[name]
	return validator, exists
}

// Available returns the sorted names of all registered validators
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.validators))
	for name := range r.validators {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
