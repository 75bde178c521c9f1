// Package registry maps action type tags to their handler descriptors.
// Handlers are registered once at process start, before any traffic is
// processed; lookups after that barrier are read-only and need no
// synchronization.
package registry

import (
	"context"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/schemas"
)

// ProfileUpdater is the slice of profile persistence the lifecycle hooks
// need. Implemented by the profile repository.
type ProfileUpdater interface {
	SetFollowing(ctx context.Context, tenant, idTag string, following bool) error
	SetFollower(ctx context.Context, tenant, idTag string, follower bool) error
	SetConnection(ctx context.Context, tenant, idTag string, state string) error
}

// ActionUpdater is the slice of action persistence the lifecycle hooks
// need. Implemented by the action repository.
type ActionUpdater interface {
	SetStatus(ctx context.Context, tenant, actionID string, status *string) error
}

// Env carries the collaborators available to lifecycle hooks.
type Env struct {
	Profiles ProfileUpdater
	Actions  ActionUpdater
}

// ActionHandler describes one action type: its payload schema, its
// broadcast and trust policy, an optional storage dedup key derivation
// and the lifecycle callbacks.
type ActionHandler interface {
	Type() string
	Schema() schemas.Schema

	// Broadcast reports whether actions of this type without an explicit
	// audience are delivered to every follower of the issuer.
	Broadcast() bool

	// AllowUnknown reports whether tokens from issuers with no
	// established trust relationship may still be accepted (subject to
	// parent ownership checks in the inbound pipeline).
	AllowUnknown() bool

	// GenerateKey derives a storage dedup key; empty means the action id
	// itself is the only identity.
	GenerateKey(a *federation.Action) string

	OnCreate(ctx context.Context, env Env, tenant string, a *federation.Action) error
	OnInbound(ctx context.Context, env Env, tenant string, a *federation.Action) error
	OnAccept(ctx context.Context, env Env, tenant string, a *federation.Action) error
	OnReject(ctx context.Context, env Env, tenant string, a *federation.Action) error
}

// Hook is the descriptor base embedded by the concrete handlers. Its
// lifecycle callbacks are no-ops.
type Hook struct {
	TypeTag       string
	Validate      schemas.Schema
	DoBroadcast   bool
	AcceptUnknown bool
}

func (h Hook) Type() string { return h.TypeTag }

func (h Hook) Schema() schemas.Schema {
	if h.Validate == nil {
		return schemas.Generic
	}
	return h.Validate
}

func (h Hook) Broadcast() bool    { return h.DoBroadcast }
func (h Hook) AllowUnknown() bool { return h.AcceptUnknown }

func (h Hook) GenerateKey(a *federation.Action) string { return "" }

func (h Hook) OnCreate(ctx context.Context, env Env, tenant string, a *federation.Action) error {
	return nil
}

func (h Hook) OnInbound(ctx context.Context, env Env, tenant string, a *federation.Action) error {
	return nil
}

func (h Hook) OnAccept(ctx context.Context, env Env, tenant string, a *federation.Action) error {
	return nil
}

func (h Hook) OnReject(ctx context.Context, env Env, tenant string, a *federation.Action) error {
	return nil
}

// Registry is the process-wide dispatch table. Register replaces earlier
// entries for the same type, so initialization order matters.
type Registry struct {
	handlers map[string]ActionHandler
}

func New() *Registry {
	return &Registry{handlers: map[string]ActionHandler{}}
}

func (r *Registry) Register(h ActionHandler) {
	r.handlers[h.Type()] = h
}

func (r *Registry) Lookup(typ string) (ActionHandler, bool) {
	h, ok := r.handlers[typ]
	return h, ok
}

// Types lists the registered type tags.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// NewDefault builds a registry with the standard handler set installed.
func NewDefault() *Registry {
	r := New()
	for _, h := range DefaultHandlers() {
		r.Register(h)
	}
	return r
}
