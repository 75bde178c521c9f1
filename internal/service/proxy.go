package service

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/client"
	"github.com/cloudillo/federation/internal/usecase"
	"github.com/cloudillo/federation/token"
)

const (
	proxyTokenTTL   = time.Minute
	bearerCacheTTL  = time.Hour
	exchangeTimeout = 5 * time.Second
)

// ProxyIssuer mints delegated credentials: it signs a short-lived PROXY
// token for the tenant, exchanges it at the target node for a bearer
// access token, and caches the bearer (never the PROXY token) in memory
// for the process lifetime. Exchange failures are not cached, so the next
// call retries immediately.
type ProxyIssuer struct {
	client  *client.Client
	tenants usecase.TenantRepository
	cache   *cache.Cache
	group   singleflight.Group
}

func NewProxyIssuer(cl *client.Client, tenants usecase.TenantRepository) *ProxyIssuer {
	return &ProxyIssuer{
		client:  cl,
		tenants: tenants,
		cache:   cache.New(bearerCacheTTL, 15*time.Minute),
	}
}

// Issue returns a bearer token letting the tenant call the target node's
// API as itself.
func (p *ProxyIssuer) Issue(ctx context.Context, tenant, targetTag string) (string, error) {
	ctx, span := tracer.Start(ctx, "Proxy.Issue")
	defer span.End()

	cacheKey := tenant + "|" + targetTag
	if x, found := p.cache.Get(cacheKey); found {
		return x.(string), nil
	}

	v, err, _ := p.group.Do(cacheKey, func() (any, error) {
		key, err := p.tenants.SigningKey(ctx, tenant)
		if err != nil {
			return "", errors.Wrap(err, "proxy: no signing key")
		}

		now := federation.Now()
		claims := token.Claims{
			TypeTag:   federation.TokenTypeProxy,
			Issuer:    tenant,
			KeyID:     key.KeyID,
			IssuedAt:  now,
			ExpiresAt: now + int64(proxyTokenTTL/time.Second),
			Audience:  targetTag,
		}
		proxyToken, err := token.Create(claims, key.PrivateKey)
		if err != nil {
			return "", errors.Wrap(err, "proxy: signing failed")
		}

		exCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
		defer cancel()

		access, err := p.client.ExchangeToken(exCtx, targetTag, proxyToken)
		if err != nil {
			return "", err
		}

		// The cache must never outlive the remote-side expiry.
		ttl := bearerCacheTTL
		if access.ExpiresAt > 0 {
			if until := time.Until(time.Unix(access.ExpiresAt, 0)); until < ttl {
				ttl = until
			}
		}
		if ttl > 0 {
			p.cache.Set(cacheKey, access.Token, ttl)
		}
		return access.Token, nil
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return v.(string), nil
}
