package cmd

import (
	"log/slog"

	"github.com/mstairs/flowline/pkg/persistence"
	"github.com/mstairs/flowline/pkg/registry"
)

// NewRegistry builds the action registry with all built-in actions wired.
func NewRegistry(logger *slog.Logger, persist persistence.Persistence) *registry.Registry {
	reg := registry.NewRegistry(logger)
	registry.RegisterDefaults(reg, persist.Variables())

	return reg
}
