package resolver

import (
	"time"

	"github.com/google/uuid"
)

// builtinProviders are evaluated lazily on every lookup
func (r *Resolver) builtinProviders() map[string]ProviderFunc {
	environment := func() any { return r.env }
	randomID := func() any { return uuid.NewString() }

	return map[string]ProviderFunc{
		"now":         func() any { return r.now().UTC().Format(time.RFC3339) },
		"timestamp":   func() any { return r.now().Unix() },
		"date":        func() any { return r.now().UTC().Format("2006-01-02") },
		"environment": environment,
		"env":         environment,
		"random_id":   randomID,
		"uuid":        randomID,
	}
}
