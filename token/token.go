package token

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/cloudillo/federation"
)

const (
	headerType = "JWT"
	algorithm  = "CLOUDILLO"
)

// Header is the envelope metadata of a compact signed token.
type Header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid,omitempty"`
}

// Claims carries the protocol fields of an action token. Field names
// follow the wire format; Content stays opaque until the registered
// schema validates it.
type Claims struct {
	TypeTag     string          `json:"t"`
	Issuer      string          `json:"iss"`
	KeyID       string          `json:"k,omitempty"`
	IssuedAt    int64           `json:"iat"`
	ExpiresAt   int64           `json:"exp,omitempty"`
	Audience    string          `json:"aud,omitempty"`
	Subject     string          `json:"sub,omitempty"`
	Parent      string          `json:"p,omitempty"`
	Content     json.RawMessage `json:"c,omitempty"`
	Attachments []string        `json:"a,omitempty"`
}

// Create signs claims with the issuer's private key and returns the
// compact bearer token.
func Create(claims Claims, privKeyHex string) (string, error) {
	header := Header{
		Type:      headerType,
		Algorithm: algorithm,
		KeyID:     claims.KeyID,
	}
	headerStr, err := json.Marshal(header)
	if err != nil {
		return "", err
	}

	payloadStr, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	headerB64 := base64.RawURLEncoding.EncodeToString(headerStr)
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadStr)
	target := headerB64 + "." + payloadB64

	signatureBytes, err := federation.SignBytes([]byte(target), privKeyHex)
	if err != nil {
		return "", err
	}
	signatureB64 := base64.RawURLEncoding.EncodeToString(signatureBytes)

	return target + "." + signatureB64, nil
}

// Decode parses the token envelope without verifying the signature. The
// caller resolves the issuer's public key from the returned header and
// claims, then finishes with Verify.
func Decode(tok string) (*Header, *Claims, error) {
	split := strings.Split(tok, ".")
	if len(split) != 3 {
		return nil, nil, federation.InvalidTokenf("expected 3 segments, got %d", len(split))
	}

	var header Header
	headerBytes, err := base64.RawURLEncoding.DecodeString(split[0])
	if err != nil {
		return nil, nil, federation.InvalidTokenf("header: %v", err)
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, federation.InvalidTokenf("header: %v", err)
	}

	if header.Type != headerType || header.Algorithm != algorithm {
		return nil, nil, federation.InvalidTokenf("unsupported token type %s/%s", header.Type, header.Algorithm)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(split[1])
	if err != nil {
		return nil, nil, federation.InvalidTokenf("payload: %v", err)
	}

	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, nil, federation.InvalidTokenf("payload: %v", err)
	}
	if claims.Issuer == "" || claims.TypeTag == "" {
		return nil, nil, federation.InvalidTokenf("missing issuer or type")
	}

	return &header, &claims, nil
}

// Verify checks expiry and the signature of a decoded token against the
// issuer's public key.
func Verify(tok string, claims *Claims, publicKey string) error {
	split := strings.Split(tok, ".")
	if len(split) != 3 {
		return federation.InvalidTokenf("expected 3 segments, got %d", len(split))
	}

	if claims.ExpiresAt != 0 && claims.ExpiresAt < federation.Now() {
		return federation.InvalidTokenf("token expired at %d", claims.ExpiresAt)
	}

	signatureBytes, err := base64.RawURLEncoding.DecodeString(split[2])
	if err != nil {
		return federation.InvalidTokenf("signature: %v", err)
	}

	if err := federation.VerifySignature([]byte(split[0]+"."+split[1]), signatureBytes, publicKey); err != nil {
		return federation.SignatureInvalidf("%v", err)
	}

	return nil
}

// Action materializes a durable record from verified claims. actionID must
// be the content hash of the exact token bytes that were verified.
func (c *Claims) Action(actionID string) (federation.Action, error) {
	typ, subType := federation.ParseTypeTag(c.TypeTag)

	var content any
	if len(c.Content) > 0 {
		if err := json.Unmarshal(c.Content, &content); err != nil {
			return federation.Action{}, federation.SchemaInvalidf("content: %v", err)
		}
	}

	attachments := make([]federation.Attachment, 0, len(c.Attachments))
	for _, desc := range c.Attachments {
		att, err := federation.ParseAttachment(desc)
		if err != nil {
			return federation.Action{}, federation.SchemaInvalidf("%v", err)
		}
		attachments = append(attachments, att)
	}
	if len(attachments) == 0 {
		attachments = nil
	}

	return federation.Action{
		ActionID:    actionID,
		Type:        typ,
		SubType:     subType,
		IssuerTag:   c.Issuer,
		AudienceTag: c.Audience,
		Subject:     c.Subject,
		ParentID:    c.Parent,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   c.IssuedAt,
		ExpiresAt:   c.ExpiresAt,
	}, nil
}
