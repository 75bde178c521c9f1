package usecase

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/internal/domain"
	"github.com/cloudillo/federation/registry"
	"github.com/cloudillo/federation/token"
)

// OutboundPipeline creates, signs, persists and schedules delivery of
// locally originated actions.
type OutboundPipeline struct {
	registry *registry.Registry
	tenants  TenantRepository
	actions  ActionRepository
	profiles ProfileRepository
	queue    DeliveryQueue
	bus      EventBus
	env      registry.Env
}

func NewOutboundPipeline(
	reg *registry.Registry,
	tenants TenantRepository,
	actions ActionRepository,
	profiles ProfileRepository,
	queue DeliveryQueue,
	bus EventBus,
) *OutboundPipeline {
	return &OutboundPipeline{
		registry: reg,
		tenants:  tenants,
		actions:  actions,
		profiles: profiles,
		queue:    queue,
		bus:      bus,
		env:      registry.Env{Profiles: profiles, Actions: actions},
	}
}

// Create signs and persists a new action for the tenant and schedules its
// delivery per the type's broadcast policy. Returns the derived action id.
func (p *OutboundPipeline) Create(ctx context.Context, tenant string, na federation.NewAction) (string, error) {
	ctx, span := tracer.Start(ctx, "Outbound.Create")
	defer span.End()

	key, err := p.tenants.SigningKey(ctx, tenant)
	if err != nil {
		span.RecordError(err)
		return "", errors.Wrap(err, "outbound: no signing key")
	}

	typeTag, err := federation.ComposeTypeTag(na.Type, na.SubType)
	if err != nil {
		return "", federation.SchemaInvalidf("%v", err)
	}

	// Root is resolved transitively through local storage at creation
	// time and cached on the record.
	rootID := ""
	if na.ParentID != "" {
		parent, err := p.actions.Get(ctx, tenant, na.ParentID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", errors.Wrap(err, "outbound: parent lookup failed")
		}
		if parent != nil {
			rootID = parent.RootID
			if rootID == "" {
				rootID = parent.ActionID
			}
		}
	}

	var content json.RawMessage
	if na.Content != nil {
		content, err = json.Marshal(na.Content)
		if err != nil {
			return "", federation.SchemaInvalidf("content: %v", err)
		}
	}

	var attachments []string
	for _, att := range na.Attachments {
		attachments = append(attachments, att.String())
	}

	claims := token.Claims{
		TypeTag:     typeTag,
		Issuer:      tenant,
		KeyID:       key.KeyID,
		IssuedAt:    federation.Now(),
		ExpiresAt:   na.ExpiresAt,
		Audience:    na.AudienceTag,
		Subject:     na.Subject,
		Parent:      na.ParentID,
		Content:     content,
		Attachments: attachments,
	}

	hook, registered := p.registry.Lookup(na.Type)
	if registered {
		if err := hook.Schema()(&claims); err != nil {
			span.RecordError(err)
			return "", err
		}
	}

	tok, err := token.Create(claims, key.PrivateKey)
	if err != nil {
		span.RecordError(err)
		return "", errors.Wrap(err, "outbound: signing failed")
	}

	actionID := federation.ActionID(tok)
	action, err := claims.Action(actionID)
	if err != nil {
		return "", err
	}
	action.RootID = rootID

	dedupKey := ""
	if registered {
		dedupKey = hook.GenerateKey(&action)
	}

	created, err := p.actions.Create(ctx, tenant, action, tok, dedupKey)
	if err != nil {
		return "", errors.Wrap(err, "outbound: persist failed")
	}

	if created {
		if registered {
			if err := hook.OnCreate(ctx, p.env, tenant, &action); err != nil {
				return "", errors.Wrap(err, "outbound: hook failed")
			}
		}

		event := federation.Event{
			Type:   domain.EventActionNew,
			Tenant: tenant,
			Action: &action,
		}
		if err := p.bus.Publish(ctx, domain.NotifyChannel(tenant), event); err != nil {
			span.RecordError(errors.Wrap(err, "outbound: notify failed"))
		}
	}

	targets, err := p.deliveryTargets(ctx, tenant, &action, hook, registered)
	if err != nil {
		return "", err
	}
	for _, target := range targets {
		if err := p.queue.Enqueue(ctx, target, actionID, tok); err != nil {
			span.RecordError(errors.Wrapf(err, "outbound: enqueue for %s failed", target))
		}
	}

	return actionID, nil
}

// deliveryTargets applies the type's broadcast policy: an explicit
// audience gets a single targeted delivery, broadcast types without one
// reach every follower of the issuer.
func (p *OutboundPipeline) deliveryTargets(
	ctx context.Context,
	tenant string,
	action *federation.Action,
	hook registry.ActionHandler,
	registered bool,
) ([]string, error) {
	if action.AudienceTag != "" {
		if action.AudienceTag == tenant {
			return nil, nil
		}
		return []string{action.AudienceTag}, nil
	}
	if registered && hook.Broadcast() {
		followers, err := p.profiles.ListFollowers(ctx, tenant)
		if err != nil {
			return nil, errors.Wrap(err, "outbound: follower lookup failed")
		}
		return followers, nil
	}
	return nil, nil
}
