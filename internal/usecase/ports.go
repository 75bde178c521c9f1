package usecase

import (
	"context"
	"io"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/internal/domain"
)

// ActionRepository defines storage operations for actions. Create is
// idempotent: persisting an already-known action id reports created=false
// and is a success.
type ActionRepository interface {
	Create(ctx context.Context, tenant string, action federation.Action, rawToken, dedupKey string) (created bool, err error)
	Get(ctx context.Context, tenant, actionID string) (*federation.Action, error)
	SetStatus(ctx context.Context, tenant, actionID string, status *string) error
}

// ProfileRepository defines persistence and lookup for remote identity
// profiles and their cached public keys.
type ProfileRepository interface {
	Get(ctx context.Context, tenant, idTag string) (*domain.Profile, error)
	Ensure(ctx context.Context, tenant, idTag string) error
	ListFollowers(ctx context.Context, tenant string) ([]string, error)
	SetFollowing(ctx context.Context, tenant, idTag string, following bool) error
	SetFollower(ctx context.Context, tenant, idTag string, follower bool) error
	SetConnection(ctx context.Context, tenant, idTag string, state string) error
	GetKey(ctx context.Context, tenant, idTag, keyID string) (*domain.ProfileKey, error)
	StoreKey(ctx context.Context, key domain.ProfileKey) error
}

// TenantRepository defines lookup of local tenant signing keys.
type TenantRepository interface {
	SigningKey(ctx context.Context, tenant string) (*domain.TenantKey, error)
	ListKeys(ctx context.Context, tenant string) ([]domain.TenantKey, error)
}

// KeyResolver resolves an issuer's public key, fetching and caching it
// when absent.
type KeyResolver interface {
	Resolve(ctx context.Context, tenant, issuerTag, keyID string) (string, error)
}

// AttachmentSyncer replicates the attachment variants of an inbound
// action into the local blob store.
type AttachmentSyncer interface {
	Sync(ctx context.Context, tenant string, a *federation.Action) error
}

// BlobStore is the durable binary store collaborator.
type BlobStore interface {
	Write(ctx context.Context, variantID string, r io.Reader) (int64, error)
	Open(ctx context.Context, variantID string) (io.ReadCloser, error)
	Has(ctx context.Context, variantID string) bool
}

// DeliveryQueue schedules outbound token deliveries. Enqueue is
// fire-and-forget; transmission and retry policy belong to the worker.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, targetTag, actionID, token string) error
}

// EventBus publishes events to locally connected clients.
type EventBus interface {
	Publish(ctx context.Context, channel string, event federation.Event) error
}
