package service

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/client"
	"github.com/cloudillo/federation/internal/domain"
	"github.com/cloudillo/federation/internal/usecase"
)

var tracer = otel.Tracer("service")

const (
	keyFetchTimeout = 5 * time.Second

	// defaultKeyTTL applies when the remote key listing declares no
	// expiry of its own.
	defaultKeyTTL = 24 * time.Hour
)

// KeyResolver resolves remote signing keys with a two-level cache: an
// in-process TTL cache in front of the per-tenant persistent key store.
// Concurrent resolutions of the same key coalesce into one fetch, so
// bursty inbound traffic cannot cause a fetch storm. A verification
// failure against a cached key never triggers a refetch; only a genuine
// miss does.
type KeyResolver struct {
	client   *client.Client
	profiles usecase.ProfileRepository
	cache    *cache.Cache
	group    singleflight.Group
}

func NewKeyResolver(cl *client.Client, profiles usecase.ProfileRepository) *KeyResolver {
	return &KeyResolver{
		client:   cl,
		profiles: profiles,
		cache:    cache.New(time.Hour, 15*time.Minute),
	}
}

// Resolve returns the base64url compressed public key for
// (issuerTag, keyID) within the tenant's trust cache.
func (r *KeyResolver) Resolve(ctx context.Context, tenant, issuerTag, keyID string) (string, error) {
	ctx, span := tracer.Start(ctx, "Keys.Resolve")
	defer span.End()

	if keyID == "" {
		return "", federation.UnknownKeyf("token names no signing key")
	}

	cacheKey := tenant + "|" + issuerTag + "|" + keyID
	if x, found := r.cache.Get(cacheKey); found {
		return x.(string), nil
	}

	v, err, _ := r.group.Do(cacheKey, func() (any, error) {
		return r.resolveSlow(ctx, tenant, issuerTag, keyID, cacheKey)
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return v.(string), nil
}

func (r *KeyResolver) resolveSlow(ctx context.Context, tenant, issuerTag, keyID, cacheKey string) (string, error) {
	now := federation.Now()

	stored, err := r.profiles.GetKey(ctx, tenant, issuerTag, keyID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", errors.Wrap(err, "key lookup failed")
	}
	if stored != nil && (stored.ExpiresAt == 0 || stored.ExpiresAt > now) {
		r.cache.Set(cacheKey, stored.PublicKey, cacheTTL(stored.ExpiresAt, now))
		return stored.PublicKey, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, keyFetchTimeout)
	defer cancel()

	keys, err := r.client.GetKeys(fetchCtx, issuerTag)
	if err != nil {
		return "", err
	}

	for _, key := range keys.Keys {
		if key.KeyID != keyID {
			continue
		}
		expires := key.Expires
		if expires == 0 {
			expires = now + int64(defaultKeyTTL/time.Second)
		}
		if err := r.profiles.StoreKey(ctx, domain.ProfileKey{
			Tenant:    tenant,
			IDTag:     issuerTag,
			KeyID:     keyID,
			PublicKey: key.PublicKey,
			ExpiresAt: expires,
		}); err != nil {
			return "", errors.Wrap(err, "key store failed")
		}
		r.cache.Set(cacheKey, key.PublicKey, cacheTTL(expires, now))
		return key.PublicKey, nil
	}

	return "", federation.UnknownKeyf("issuer %s lists no key %s", issuerTag, keyID)
}

func cacheTTL(expiresAt, now int64) time.Duration {
	if expiresAt == 0 {
		return cache.DefaultExpiration
	}
	ttl := time.Duration(expiresAt-now) * time.Second
	if ttl <= 0 || ttl > time.Hour {
		return cache.DefaultExpiration
	}
	return ttl
}
