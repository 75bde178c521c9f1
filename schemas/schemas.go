// Package schemas holds the structural validation rules applied to action
// token payloads before they are accepted. Each registered action type
// references one Schema; unregistered types fall back to Generic.
package schemas

import (
	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/token"
)

// Schema validates the shape of decoded token claims.
type Schema func(c *token.Claims) error

// Generic covers every action token: a plausible issuer tag, a positive
// issue time and well-formed optional fields.
func Generic(c *token.Claims) error {
	if !federation.IsIDTag(c.Issuer) {
		return federation.SchemaInvalidf("issuer is not an identity tag: %q", c.Issuer)
	}
	if c.IssuedAt <= 0 {
		return federation.SchemaInvalidf("missing issue time")
	}
	if c.ExpiresAt != 0 && c.ExpiresAt < c.IssuedAt {
		return federation.SchemaInvalidf("expiry precedes issue time")
	}
	if c.Audience != "" && !federation.IsIDTag(c.Audience) {
		return federation.SchemaInvalidf("audience is not an identity tag: %q", c.Audience)
	}
	for _, desc := range c.Attachments {
		if _, err := federation.ParseAttachment(desc); err != nil {
			return federation.SchemaInvalidf("%v", err)
		}
	}
	return nil
}

// Post requires content; threads and attachments are optional.
func Post(c *token.Claims) error {
	if err := Generic(c); err != nil {
		return err
	}
	if len(c.Content) == 0 {
		return federation.SchemaInvalidf("post without content")
	}
	return nil
}

// Message requires a direct audience and content.
func Message(c *token.Claims) error {
	if err := Generic(c); err != nil {
		return err
	}
	if c.Audience == "" {
		return federation.SchemaInvalidf("message without audience")
	}
	if len(c.Content) == 0 {
		return federation.SchemaInvalidf("message without content")
	}
	return nil
}

// Follow is a top-level declaration toward an audience; threading it makes
// no sense.
func Follow(c *token.Claims) error {
	if err := Generic(c); err != nil {
		return err
	}
	if c.Audience == "" {
		return federation.SchemaInvalidf("follow without audience")
	}
	if c.Parent != "" {
		return federation.SchemaInvalidf("follow must not reference a parent")
	}
	return nil
}

// Connect requests are top-level and targeted.
func Connect(c *token.Claims) error {
	if err := Generic(c); err != nil {
		return err
	}
	if c.Audience == "" {
		return federation.SchemaInvalidf("connect without audience")
	}
	return nil
}

// Reaction always references the action being reacted to; the reaction
// kind travels in the subtype.
func Reaction(c *token.Claims) error {
	if err := Generic(c); err != nil {
		return err
	}
	if c.Parent == "" {
		return federation.SchemaInvalidf("reaction without parent")
	}
	_, subType := federation.ParseTypeTag(c.TypeTag)
	if subType == "" {
		return federation.SchemaInvalidf("reaction without subtype")
	}
	return nil
}

// Reference requires a parent; used for reposts and acknowledgements.
func Reference(c *token.Claims) error {
	if err := Generic(c); err != nil {
		return err
	}
	if c.Parent == "" {
		return federation.SchemaInvalidf("missing parent reference")
	}
	return nil
}

// FileShare requires at least one attachment descriptor.
func FileShare(c *token.Claims) error {
	if err := Generic(c); err != nil {
		return err
	}
	if len(c.Attachments) == 0 {
		return federation.SchemaInvalidf("file share without attachments")
	}
	return nil
}

// Stat scopes a counter-like event to a subject resource.
func Stat(c *token.Claims) error {
	if err := Generic(c); err != nil {
		return err
	}
	if c.Subject == "" {
		return federation.SchemaInvalidf("stat without subject")
	}
	return nil
}
