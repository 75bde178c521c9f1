package service

import (
	"context"
	"strings"
	"testing"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/internal/config"
	"github.com/cloudillo/federation/token"
)

type staticResolver struct {
	keys map[string]string
}

func (m *staticResolver) Resolve(ctx context.Context, tenant, issuerTag, keyID string) (string, error) {
	pub, ok := m.keys[issuerTag+"/"+keyID]
	if !ok {
		return "", federation.UnknownKeyf("no key %s for %s", keyID, issuerTag)
	}
	return pub, nil
}

func testNode(t *testing.T) config.Node {
	t.Helper()
	priv, pub, keyID, err := federation.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	return config.Node{
		IDTag:      "me.example.com",
		PrivateKey: priv,
		PublicKey:  pub,
		KeyID:      keyID,
	}
}

func remoteProxyToken(t *testing.T, audience string) (string, *staticResolver) {
	t.Helper()
	priv, pub, keyID, err := federation.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	now := federation.Now()
	proxyToken, err := token.Create(token.Claims{
		TypeTag:   federation.TokenTypeProxy,
		Issuer:    "remote.example.com",
		KeyID:     keyID,
		IssuedAt:  now,
		ExpiresAt: now + 60,
		Audience:  audience,
	}, priv)
	if err != nil {
		t.Fatalf("proxy token creation failed: %v", err)
	}

	return proxyToken, &staticResolver{keys: map[string]string{"remote.example.com/" + keyID: pub}}
}

func TestAuthExchangeAndValidate(t *testing.T) {
	node := testNode(t)
	proxyToken, resolver := remoteProxyToken(t, node.IDTag)
	auth := NewAuthService(node, resolver)

	access, err := auth.Exchange(context.Background(), proxyToken)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if access.Token == "" || access.ExpiresAt <= federation.Now() {
		t.Fatalf("unexpected access token: %+v", access)
	}

	tag, err := auth.Validate(context.Background(), access.Token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if tag != "remote.example.com" {
		t.Fatalf("bearer resolved to %q", tag)
	}
}

func TestAuthExchangeRejectsWrongAudience(t *testing.T) {
	node := testNode(t)
	proxyToken, resolver := remoteProxyToken(t, "someone-else.example.com")
	auth := NewAuthService(node, resolver)

	if _, err := auth.Exchange(context.Background(), proxyToken); err == nil {
		t.Fatalf("token for another node accepted")
	}
}

func TestAuthExchangeRejectsNonProxyToken(t *testing.T) {
	node := testNode(t)
	priv, pub, keyID, err := federation.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	actionToken, err := token.Create(token.Claims{
		TypeTag:  federation.TypePost,
		Issuer:   "remote.example.com",
		KeyID:    keyID,
		IssuedAt: federation.Now(),
		Audience: node.IDTag,
	}, priv)
	if err != nil {
		t.Fatalf("token creation failed: %v", err)
	}

	auth := NewAuthService(node, &staticResolver{
		keys: map[string]string{"remote.example.com/" + keyID: pub},
	})
	if _, err := auth.Exchange(context.Background(), actionToken); err == nil {
		t.Fatalf("action token exchanged for a bearer")
	}
}

func TestAuthValidateRejectsTamperedBearer(t *testing.T) {
	node := testNode(t)
	proxyToken, resolver := remoteProxyToken(t, node.IDTag)
	auth := NewAuthService(node, resolver)

	access, err := auth.Exchange(context.Background(), proxyToken)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	split := strings.Split(access.Token, ".")
	tampered := split[0] + "." + split[1] + "." + strings.Repeat("A", len(split[2]))
	if _, err := auth.Validate(context.Background(), tampered); err == nil {
		t.Fatalf("tampered bearer validated")
	}
}

func TestAuthValidateRejectsForeignBearer(t *testing.T) {
	node := testNode(t)
	auth := NewAuthService(node, &staticResolver{keys: map[string]string{}})

	otherPriv, _, otherKeyID, err := federation.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	foreign, err := token.Create(token.Claims{
		TypeTag:  federation.TokenTypeAccess,
		Issuer:   "other.example.com",
		KeyID:    otherKeyID,
		Subject:  "remote.example.com",
		IssuedAt: federation.Now(),
	}, otherPriv)
	if err != nil {
		t.Fatalf("token creation failed: %v", err)
	}

	if _, err := auth.Validate(context.Background(), foreign); err == nil {
		t.Fatalf("bearer minted elsewhere validated")
	}
}
