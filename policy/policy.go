// Package policy decides whether an unsolicited inbound action is
// authorized. Rules yield a Decision; the first Allow wins, an all-unset
// evaluation denies. The decision is deliberately coarse so rejections
// leak nothing about the local trust graph.
package policy

import "github.com/cloudillo/federation"

type Decision int

const (
	Unset Decision = iota
	Allow
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "unset"
	}
}

// Or combines two rule outcomes. Deny dominates, Allow beats Unset.
func (d Decision) Or(other Decision) Decision {
	if d == Deny || other == Deny {
		return Deny
	}
	if d == Allow || other == Allow {
		return Allow
	}
	return Unset
}

// InboundContext is everything the trust rules may look at for one
// received action.
type InboundContext struct {
	Tenant string
	Issuer string

	// Trusted is set by the transport when the caller authenticated over
	// a pre-established channel as the token issuer.
	Trusted bool

	// AllowUnknown mirrors the type handler's trust flag.
	AllowUnknown bool

	// HasParentRef is true when the token claims a parent; Parent is the
	// locally stored parent action, nil when unknown.
	HasParentRef bool
	Parent       *federation.Action

	Following bool
	Connected bool
}

// RuleTrustedChannel allows callers on an authenticated ack/ownership
// channel.
func RuleTrustedChannel(c InboundContext) Decision {
	if c.Trusted {
		return Allow
	}
	return Unset
}

// RuleAllowUnknown allows first-contact types: either a top-level action,
// or a child of an action the local tenant issued or was addressed by.
func RuleAllowUnknown(c InboundContext) Decision {
	if !c.AllowUnknown {
		return Unset
	}
	if !c.HasParentRef {
		return Allow
	}
	if c.Parent == nil {
		return Unset
	}
	if c.Parent.AudienceTag == c.Tenant || c.Parent.IssuerTag == c.Tenant {
		return Allow
	}
	return Unset
}

// RuleRelationship allows issuers the tenant follows or is connected to.
// A pending ("requested") connection is not yet a relationship.
func RuleRelationship(c InboundContext) Decision {
	if c.Following || c.Connected {
		return Allow
	}
	return Unset
}

// EvaluateInbound folds the inbound trust rules; anything short of an
// explicit Allow is a denial.
func EvaluateInbound(c InboundContext) Decision {
	result := Unset
	for _, rule := range []func(InboundContext) Decision{
		RuleTrustedChannel,
		RuleAllowUnknown,
		RuleRelationship,
	} {
		result = result.Or(rule(c))
	}
	if result != Allow {
		return Deny
	}
	return result
}
