package handler

import (
	"context"

	"github.com/chainflux/demux/internal/domain"
)

// UpdaterFunc mutates derived state through the datastore's scoped
// query context qc (the value returned by datastore.Store.Context).
// Updaters are synchronous w.r.t. the enclosing transaction and MUST
// be pure functions of (action, block, prior datastore state).
type UpdaterFunc func(ctx context.Context, qc any, action domain.Action, block domain.Block) error

// EffectFunc performs a non-deterministic side effect for an action.
// It has no access to the datastore transaction.
type EffectFunc func(ctx context.Context, action domain.Action, block domain.Block) error

// UpdaterRegistration binds one updater to the action type it handles.
type UpdaterRegistration struct {
	ActionType string
	Fn         UpdaterFunc
}

// EffectRegistration binds one effect to the action type it handles.
type EffectRegistration struct {
	ActionType string
	Fn         EffectFunc
}

// registry indexes registrations by action type, preserving
// registration order for multiple entries per type (spec.md §6
// "Registry input format").
type registry struct {
	updaters map[string][]UpdaterFunc
	effects  map[string][]EffectFunc
}

func newRegistry(updaters []UpdaterRegistration, effects []EffectRegistration) *registry {
	r := &registry{
		updaters: make(map[string][]UpdaterFunc),
		effects:  make(map[string][]EffectFunc),
	}
	for _, u := range updaters {
		r.updaters[u.ActionType] = append(r.updaters[u.ActionType], u.Fn)
	}
	for _, e := range effects {
		r.effects[e.ActionType] = append(r.effects[e.ActionType], e.Fn)
	}
	return r
}

func (r *registry) updatersFor(actionType string) []UpdaterFunc {
	return r.updaters[actionType]
}

func (r *registry) effectsFor(actionType string) []EffectFunc {
	return r.effects[actionType]
}

func (r *registry) hasEffects() bool {
	return len(r.effects) > 0
}
