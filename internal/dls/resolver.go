package dls

import (
	"go.uber.org/zap"

	"github.com/dls-engine/go-core/internal/auth"
	"github.com/dls-engine/go-core/internal/filter"
	"github.com/dls-engine/go-core/internal/roles"
	"github.com/dls-engine/go-core/pkg/types"
)

// Resolver computes the effective visibility filter for a request context.
// It reads one role-configuration snapshot per call; a concurrent reload is
// invisible to the call in progress.
type Resolver struct {
	store  *roles.Store
	logger *zap.Logger
}

// NewResolver creates a resolver over a role-configuration store.
func NewResolver(store *roles.Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

// EffectiveFilter resolves the principal's roles against the target index and
// operation and combines their filters.
//
// It fails only for an unresolvable principal. A principal whose roles grant
// nothing on this index resolves to deny-all, which is a valid outcome the
// executors translate into empty results, never an error the caller could
// distinguish from genuine absence.
func (r *Resolver) EffectiveFilter(principal *types.Principal, index string, op types.Operation) (EffectiveFilter, error) {
	if principal == nil || principal.ID == "" {
		return NewDenyAll(), auth.ErrUnknownPrincipal
	}

	snap := r.store.Snapshot()

	var (
		contributions []filter.Query
		unrestricted  bool
	)

	for _, roleName := range principal.Roles {
		role, ok := snap.Role(roleName)
		if !ok {
			// A role assigned to the user but absent from the configuration
			// contributes nothing.
			r.logger.Debug("Principal carries undefined role",
				zap.String("principal", principal.ID),
				zap.String("role", roleName),
			)
			continue
		}

		for _, priv := range role.PrivilegesFor(index) {
			if !priv.Grants(op) {
				continue
			}
			if priv.Query == nil {
				unrestricted = true
			} else {
				contributions = append(contributions, priv.Query)
			}
		}
	}

	ef := Combine(contributions, unrestricted)

	r.logger.Debug("Effective filter resolved",
		zap.String("principal", principal.ID),
		zap.String("index", index),
		zap.String("operation", string(op)),
		zap.String("kind", ef.Kind().String()),
	)

	return ef, nil
}
