package usecase

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/internal/domain"
	"github.com/cloudillo/federation/policy"
	"github.com/cloudillo/federation/registry"
	"github.com/cloudillo/federation/schemas"
	"github.com/cloudillo/federation/token"
)

var tracer = otel.Tracer("usecase")

// InboundRequest is one received action token. Trusted is set by the
// transport when the caller authenticated as the token issuer over a
// pre-established channel.
type InboundRequest struct {
	Tenant   string
	ActionID string
	Token    string
	Trusted  bool
}

// InboundPipeline validates, authorizes, threads, persists and dispatches
// received action tokens. It holds no per-action state; concurrent
// ingestion of unrelated actions never blocks.
type InboundPipeline struct {
	registry    *registry.Registry
	keys        KeyResolver
	actions     ActionRepository
	profiles    ProfileRepository
	attachments AttachmentSyncer
	bus         EventBus
	env         registry.Env
}

func NewInboundPipeline(
	reg *registry.Registry,
	keys KeyResolver,
	actions ActionRepository,
	profiles ProfileRepository,
	attachments AttachmentSyncer,
	bus EventBus,
) *InboundPipeline {
	return &InboundPipeline{
		registry:    reg,
		keys:        keys,
		actions:     actions,
		profiles:    profiles,
		attachments: attachments,
		bus:         bus,
		env:         registry.Env{Profiles: profiles, Actions: actions},
	}
}

// Handle runs the full inbound state machine for one token. Codec and
// authorization failures are returned as protocol errors so the transport
// can answer the peer; attachment failures only degrade the action.
func (p *InboundPipeline) Handle(ctx context.Context, req InboundRequest) error {
	ctx, span := tracer.Start(ctx, "Inbound.Handle")
	defer span.End()

	header, claims, err := token.Decode(req.Token)
	if err != nil {
		span.RecordError(err)
		return err
	}

	keyID := claims.KeyID
	if keyID == "" {
		keyID = header.KeyID
	}

	publicKey, err := p.keys.Resolve(ctx, req.Tenant, claims.Issuer, keyID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := token.Verify(req.Token, claims, publicKey); err != nil {
		span.RecordError(err)
		return err
	}

	// The id is the hash of the exact verified token bytes, never a
	// re-serialization. A mismatching caller-supplied id is a forgery or
	// a transport bug, either way terminal.
	actionID := federation.ActionID(req.Token)
	if req.ActionID != "" && req.ActionID != actionID {
		return federation.InvalidTokenf("action id mismatch")
	}

	typ, _ := federation.ParseTypeTag(claims.TypeTag)
	hook, registered := p.registry.Lookup(typ)

	schema := schemas.Generic
	if registered {
		schema = hook.Schema()
	}
	if err := schema(claims); err != nil {
		span.RecordError(err)
		return err
	}

	action, err := claims.Action(actionID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	var parent *federation.Action
	if action.ParentID != "" {
		parent, err = p.actions.Get(ctx, req.Tenant, action.ParentID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return errors.Wrap(err, "inbound: parent lookup failed")
		}
	}

	profile, err := p.profiles.Get(ctx, req.Tenant, action.IssuerTag)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return errors.Wrap(err, "inbound: profile lookup failed")
	}

	if err := p.authorize(req, hook, registered, &action, parent, profile); err != nil {
		span.RecordError(err)
		return err
	}

	// First contact with an authorized unknown issuer creates their
	// profile lazily.
	if err := p.profiles.Ensure(ctx, req.Tenant, action.IssuerTag); err != nil {
		return errors.Wrap(err, "inbound: profile create failed")
	}

	// Attachment replication is best effort: the action's structural
	// content stands without the binaries.
	if len(action.Attachments) > 0 && action.IssuerTag != req.Tenant {
		if err := p.attachments.Sync(ctx, req.Tenant, &action); err != nil {
			span.RecordError(errors.Wrap(err, "inbound: attachment sync degraded"))
		}
	}

	if parent != nil {
		if parent.RootID != "" {
			action.RootID = parent.RootID
		} else {
			action.RootID = parent.ActionID
		}
	}

	dedupKey := ""
	if registered {
		dedupKey = hook.GenerateKey(&action)
	}

	created, err := p.actions.Create(ctx, req.Tenant, action, req.Token, dedupKey)
	if err != nil {
		return errors.Wrap(err, "inbound: persist failed")
	}
	if !created {
		// Idempotent re-delivery: stored already, hooks fired already.
		return nil
	}

	if registered {
		if err := hook.OnInbound(ctx, p.env, req.Tenant, &action); err != nil {
			return errors.Wrap(err, "inbound: hook failed")
		}
	}

	event := federation.Event{
		Type:   domain.EventActionNew,
		Tenant: req.Tenant,
		Action: &action,
	}
	if err := p.bus.Publish(ctx, domain.NotifyChannel(req.Tenant), event); err != nil {
		span.RecordError(errors.Wrap(err, "inbound: notify failed"))
	}

	return nil
}

func (p *InboundPipeline) authorize(
	req InboundRequest,
	hook registry.ActionHandler,
	registered bool,
	action *federation.Action,
	parent *federation.Action,
	profile *domain.Profile,
) error {
	if profile != nil && profile.Status == domain.ProfileStatusBlocked {
		return federation.UntrustedIssuerf("issuer %s blocked", action.IssuerTag)
	}

	pc := policy.InboundContext{
		Tenant:       req.Tenant,
		Issuer:       action.IssuerTag,
		Trusted:      req.Trusted,
		AllowUnknown: registered && hook.AllowUnknown(),
		HasParentRef: action.ParentID != "",
		Parent:       parent,
	}
	if profile != nil {
		pc.Following = profile.Following
		pc.Connected = profile.Connected == federation.ConnConnected
	}

	if policy.EvaluateInbound(pc) != policy.Allow {
		return federation.UntrustedIssuerf("issuer %s not authorized for %s", action.IssuerTag, action.Type)
	}
	return nil
}

// Accept transitions a stored action and fires its on-accept hook.
func (p *InboundPipeline) Accept(ctx context.Context, tenant, actionID string) error {
	return p.transition(ctx, tenant, actionID, federation.StatusAccepted)
}

// Reject transitions a stored action and fires its on-reject hook.
func (p *InboundPipeline) Reject(ctx context.Context, tenant, actionID string) error {
	return p.transition(ctx, tenant, actionID, federation.StatusRejected)
}

// Dismiss marks a stored action dismissed without firing hooks.
func (p *InboundPipeline) Dismiss(ctx context.Context, tenant, actionID string) error {
	status := federation.StatusDismissed
	return p.actions.SetStatus(ctx, tenant, actionID, &status)
}

func (p *InboundPipeline) transition(ctx context.Context, tenant, actionID, status string) error {
	ctx, span := tracer.Start(ctx, "Inbound.Transition")
	defer span.End()

	action, err := p.actions.Get(ctx, tenant, actionID)
	if err != nil {
		return err
	}

	if err := p.actions.SetStatus(ctx, tenant, actionID, &status); err != nil {
		return err
	}
	action.Status = &status

	if hook, ok := p.registry.Lookup(action.Type); ok {
		switch status {
		case federation.StatusAccepted:
			err = hook.OnAccept(ctx, p.env, tenant, action)
		case federation.StatusRejected:
			err = hook.OnReject(ctx, p.env, tenant, action)
		}
		if err != nil {
			return errors.Wrap(err, "transition: hook failed")
		}
	}

	event := federation.Event{
		Type:   domain.EventActionUpdate,
		Tenant: tenant,
		Action: action,
	}
	if err := p.bus.Publish(ctx, domain.NotifyChannel(tenant), event); err != nil {
		span.RecordError(errors.Wrap(err, "transition: notify failed"))
	}
	return nil
}
