// Package registry maps namespaced action type strings to typed factories.
// The host application populates it at startup; the pipeline executor and
// the definition store both resolve through it.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mstairs/flowline/pkg/protocol"
)

type Registry struct {
	logger    *slog.Logger
	factories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) Register(factory protocol.ActionFactory) {
	r.factories[factory.ID()] = factory
}

// Create validates config against the factory's schema, then builds the
// action.
func (r *Registry) Create(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.factories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type '%s' not registered", actionType)
	}

	if err := validateConfig(factory, config); err != nil {
		return nil, err
	}

	return factory.Create(config)
}

// ValidateConfig checks a step configuration without instantiating the
// action. The definition store uses this at create/update time.
func (r *Registry) ValidateConfig(actionType string, config map[string]any) error {
	factory, ok := r.factories[actionType]
	if !ok {
		return fmt.Errorf("action type '%s' not registered", actionType)
	}

	return validateConfig(factory, config)
}

// Available returns the registered action types, sorted.
func (r *Registry) Available() []string {
	types := make([]string, 0, len(r.factories))
	for actionType := range r.factories {
		types = append(types, actionType)
	}

	sort.Strings(types)

	return types
}

func validateConfig(factory protocol.ActionFactory, config map[string]any) error {
	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("schema validation for action type '%s': %w", factory.ID(), err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("invalid config for action type '%s': %s", factory.ID(), strings.Join(details, "; "))
	}

	return nil
}
