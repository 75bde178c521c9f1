package service

import (
	"context"
	"time"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/internal/config"
	"github.com/cloudillo/federation/internal/usecase"
	"github.com/cloudillo/federation/token"
)

const accessTokenTTL = time.Hour

// AuthService exchanges remote proxy tokens for short-lived bearer
// tokens signed with the local node key, and validates those bearers
// on later requests.
type AuthService struct {
	node config.Node
	keys usecase.KeyResolver
}

func NewAuthService(node config.Node, keys usecase.KeyResolver) *AuthService {
	return &AuthService{node: node, keys: keys}
}

// Exchange validates a proxy token issued by a remote node and mints
// a bearer access token for its issuer.
func (s *AuthService) Exchange(ctx context.Context, proxyToken string) (*federation.AccessToken, error) {
	ctx, span := tracer.Start(ctx, "Auth.Service.Exchange")
	defer span.End()

	header, claims, err := token.Decode(proxyToken)
	if err != nil {
		return nil, err
	}
	if claims.TypeTag != federation.TokenTypeProxy {
		return nil, federation.InvalidTokenf("unexpected token type %q", claims.TypeTag)
	}
	if claims.Audience != s.node.IDTag {
		return nil, federation.InvalidTokenf("token audience %q is not this node", claims.Audience)
	}

	keyID := claims.KeyID
	if keyID == "" {
		keyID = header.KeyID
	}
	publicKey, err := s.keys.Resolve(ctx, s.node.IDTag, claims.Issuer, keyID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := token.Verify(proxyToken, claims, publicKey); err != nil {
		span.RecordError(err)
		return nil, err
	}

	expiresAt := federation.Now() + int64(accessTokenTTL/time.Second)
	bearer, err := token.Create(token.Claims{
		TypeTag:   federation.TokenTypeAccess,
		Issuer:    s.node.IDTag,
		KeyID:     s.node.KeyID,
		Subject:   claims.Issuer,
		IssuedAt:  federation.Now(),
		ExpiresAt: expiresAt,
	}, s.node.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &federation.AccessToken{Token: bearer, ExpiresAt: expiresAt}, nil
}

// Validate checks a bearer minted by Exchange and returns the remote
// tag it was issued to.
func (s *AuthService) Validate(ctx context.Context, bearer string) (string, error) {
	_, claims, err := token.Decode(bearer)
	if err != nil {
		return "", err
	}
	if claims.TypeTag != federation.TokenTypeAccess {
		return "", federation.InvalidTokenf("unexpected token type %q", claims.TypeTag)
	}
	if claims.Issuer != s.node.IDTag {
		return "", federation.InvalidTokenf("token not issued by this node")
	}
	if err := token.Verify(bearer, claims, s.node.PublicKey); err != nil {
		return "", err
	}
	return claims.Subject, nil
}
