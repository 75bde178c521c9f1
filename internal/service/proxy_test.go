package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/client"
	"github.com/cloudillo/federation/internal/domain"
	"github.com/cloudillo/federation/token"
)

func TestProxyIssueExchangesAndCaches(t *testing.T) {
	priv, pub, keyID, err := federation.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	var exchanges int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&exchanges, 1)

		proxyToken := r.URL.Query().Get("token")
		_, claims, err := token.Decode(proxyToken)
		if err != nil {
			t.Fatalf("undecodable proxy token: %v", err)
		}
		if claims.TypeTag != federation.TokenTypeProxy {
			t.Fatalf("expected proxy token, got %q", claims.TypeTag)
		}
		if claims.Audience != "target.example.com" {
			t.Fatalf("proxy token for wrong audience: %q", claims.Audience)
		}
		if err := token.Verify(proxyToken, claims, pub); err != nil {
			t.Fatalf("proxy token does not verify: %v", err)
		}
		if claims.ExpiresAt <= claims.IssuedAt {
			t.Fatalf("proxy token without short expiry")
		}
		json.NewEncoder(w).Encode(federation.AccessToken{Token: "minted-bearer"})
	}))
	t.Cleanup(srv.Close)

	cl := client.New("test-agent")
	cl.BaseURL = func(idTag string) string { return srv.URL }

	p := NewProxyIssuer(cl, &staticTenantRepo{key: &domain.TenantKey{
		Tenant:     "me.example.com",
		KeyID:      keyID,
		PublicKey:  pub,
		PrivateKey: priv,
	}})

	for i := 0; i < 3; i++ {
		bearer, err := p.Issue(context.Background(), "me.example.com", "target.example.com")
		if err != nil {
			t.Fatalf("issue %d failed: %v", i, err)
		}
		if bearer != "minted-bearer" {
			t.Fatalf("unexpected bearer: %q", bearer)
		}
	}

	if atomic.LoadInt64(&exchanges) != 1 {
		t.Fatalf("expected one exchange, got %d", exchanges)
	}
}

func TestProxyIssueCacheCappedByRemoteExpiry(t *testing.T) {
	priv, pub, keyID, err := federation.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	var exchanges int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&exchanges, 1)
		json.NewEncoder(w).Encode(federation.AccessToken{
			Token:     "short-lived-bearer",
			ExpiresAt: federation.Now() - 10,
		})
	}))
	t.Cleanup(srv.Close)

	cl := client.New("test-agent")
	cl.BaseURL = func(idTag string) string { return srv.URL }

	p := NewProxyIssuer(cl, &staticTenantRepo{key: &domain.TenantKey{
		Tenant:     "me.example.com",
		KeyID:      keyID,
		PublicKey:  pub,
		PrivateKey: priv,
	}})

	// An already-expired bearer must not be cached, so every issue goes
	// back to the remote node.
	for i := 0; i < 2; i++ {
		bearer, err := p.Issue(context.Background(), "me.example.com", "target.example.com")
		if err != nil {
			t.Fatalf("issue %d failed: %v", i, err)
		}
		if bearer != "short-lived-bearer" {
			t.Fatalf("unexpected bearer: %q", bearer)
		}
	}
	if atomic.LoadInt64(&exchanges) != 2 {
		t.Fatalf("expired bearer served from cache: %d exchanges", exchanges)
	}
}

func TestProxyIssueFailureNotCached(t *testing.T) {
	priv, pub, keyID, err := federation.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(federation.AccessToken{Token: "minted-bearer"})
	}))
	t.Cleanup(srv.Close)

	cl := client.New("test-agent")
	cl.BaseURL = func(idTag string) string { return srv.URL }

	p := NewProxyIssuer(cl, &staticTenantRepo{key: &domain.TenantKey{
		Tenant:     "me.example.com",
		KeyID:      keyID,
		PublicKey:  pub,
		PrivateKey: priv,
	}})

	if _, err := p.Issue(context.Background(), "me.example.com", "target.example.com"); err == nil {
		t.Fatalf("expected first exchange to fail")
	}

	bearer, err := p.Issue(context.Background(), "me.example.com", "target.example.com")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if bearer != "minted-bearer" {
		t.Fatalf("unexpected bearer: %q", bearer)
	}
}
