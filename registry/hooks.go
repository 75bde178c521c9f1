package registry

import (
	"context"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/schemas"
)

// PostHook: public posts, broadcast to followers. Subtypes distinguish
// article-like variants and need no extra handling here.
type PostHook struct{ Hook }

// MessageHook: direct messages, always targeted.
type MessageHook struct{ Hook }

// FollowHook: follow declarations. AllowUnknown because a follow is by
// definition first contact.
type FollowHook struct{ Hook }

func (h FollowHook) OnCreate(ctx context.Context, env Env, tenant string, a *federation.Action) error {
	return env.Profiles.SetFollowing(ctx, tenant, a.AudienceTag, true)
}

func (h FollowHook) OnInbound(ctx context.Context, env Env, tenant string, a *federation.Action) error {
	return env.Profiles.SetFollower(ctx, tenant, a.IssuerTag, true)
}

// ConnectHook: mutual connection handshake. The request is accepted from
// unknown issuers; acceptance establishes the relationship on both ends.
type ConnectHook struct{ Hook }

func (h ConnectHook) OnCreate(ctx context.Context, env Env, tenant string, a *federation.Action) error {
	return env.Profiles.SetConnection(ctx, tenant, a.AudienceTag, federation.ConnRequested)
}

func (h ConnectHook) OnInbound(ctx context.Context, env Env, tenant string, a *federation.Action) error {
	// Reply to our own pending request arrives as a child CONN action.
	if a.ParentID != "" {
		return env.Profiles.SetConnection(ctx, tenant, a.IssuerTag, federation.ConnConnected)
	}
	return env.Profiles.SetConnection(ctx, tenant, a.IssuerTag, federation.ConnRequested)
}

func (h ConnectHook) OnAccept(ctx context.Context, env Env, tenant string, a *federation.Action) error {
	if err := env.Profiles.SetConnection(ctx, tenant, a.IssuerTag, federation.ConnConnected); err != nil {
		return err
	}
	return env.Profiles.SetFollower(ctx, tenant, a.IssuerTag, true)
}

func (h ConnectHook) OnReject(ctx context.Context, env Env, tenant string, a *federation.Action) error {
	return env.Profiles.SetConnection(ctx, tenant, a.IssuerTag, federation.ConnNone)
}

// ReactHook: one reaction per issuer, parent and kind. The dedup key
// collapses repeated deliveries and repeated taps alike.
type ReactHook struct{ Hook }

func (h ReactHook) GenerateKey(a *federation.Action) string {
	sum := xxh3.HashString(a.IssuerTag + "\x00" + a.ParentID + "\x00" + a.SubType)
	return fmt.Sprintf("%s~%016x", a.Type, sum)
}

// RepostHook: rebroadcast of an existing action.
type RepostHook struct{ Hook }

func (h RepostHook) GenerateKey(a *federation.Action) string {
	sum := xxh3.HashString(a.IssuerTag + "\x00" + a.ParentID)
	return fmt.Sprintf("%s~%016x", a.Type, sum)
}

// AckHook: acknowledges a parent action addressed to us; accepting party
// marks the parent accepted.
type AckHook struct{ Hook }

func (h AckHook) OnInbound(ctx context.Context, env Env, tenant string, a *federation.Action) error {
	if a.ParentID == "" {
		return nil
	}
	status := federation.StatusAccepted
	return env.Actions.SetStatus(ctx, tenant, a.ParentID, &status)
}

// FileShareHook: shares binary attachments; selective replication happens
// in the inbound pipeline, not here.
type FileShareHook struct{ Hook }

// StatHook: periodic counter events scoped to a subject; only the latest
// one per issuer and subject is interesting.
type StatHook struct{ Hook }

func (h StatHook) GenerateKey(a *federation.Action) string {
	sum := xxh3.HashString(a.IssuerTag + "\x00" + a.Subject)
	return fmt.Sprintf("%s~%016x", a.Type, sum)
}

// DefaultHandlers returns the standard per-type handler set. Call before
// serving traffic; the registry is immutable afterwards.
func DefaultHandlers() []ActionHandler {
	return []ActionHandler{
		PostHook{Hook{TypeTag: federation.TypePost, Validate: schemas.Post, DoBroadcast: true}},
		MessageHook{Hook{TypeTag: federation.TypeMessage, Validate: schemas.Message}},
		FollowHook{Hook{TypeTag: federation.TypeFollow, Validate: schemas.Follow, AcceptUnknown: true}},
		ConnectHook{Hook{TypeTag: federation.TypeConnect, Validate: schemas.Connect, AcceptUnknown: true}},
		ReactHook{Hook{TypeTag: federation.TypeReact, Validate: schemas.Reaction, DoBroadcast: true}},
		RepostHook{Hook{TypeTag: federation.TypeRepost, Validate: schemas.Reference, DoBroadcast: true}},
		AckHook{Hook{TypeTag: federation.TypeAck, Validate: schemas.Reference, AcceptUnknown: true}},
		FileShareHook{Hook{TypeTag: federation.TypeFileShr, Validate: schemas.FileShare, DoBroadcast: true}},
		StatHook{Hook{TypeTag: federation.TypeStat, Validate: schemas.Stat}},
	}
}
