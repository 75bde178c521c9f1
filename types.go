package federation

import (
	"fmt"
	"strings"
	"time"
)

// Well-known action type tags. Handlers for these are registered once at
// startup; the wire token carries the tag in its "t" field, optionally
// suffixed with ":<subType>".
const (
	TypePost    = "POST"
	TypeMessage = "MSG"
	TypeFollow  = "FLW"
	TypeConnect = "CONN"
	TypeReact   = "REACT"
	TypeRepost  = "REPOST"
	TypeAck     = "ACK"
	TypeFileShr = "FSHR"
	TypeStat    = "STAT"
)

// Token-only type tags. These mark short-lived credentials, never stored
// actions.
const (
	TokenTypeProxy  = "PROXY"
	TokenTypeAccess = "ACCESS"
)

// Action statuses. A nil status means the action is active.
const (
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
	StatusDismissed = "dismissed"
	StatusDeleted   = "deleted"
)

// Connection states kept on a Profile.
const (
	ConnNone      = ""
	ConnRequested = "requested"
	ConnConnected = "connected"
)

// Action is the durable record of a typed, signed event. ActionID is the
// content hash of the signed token bytes, computed exactly once at
// creation or ingestion and never recomputed.
type Action struct {
	ActionID    string       `json:"actionId"`
	Type        string       `json:"type"`
	SubType     string       `json:"subType,omitempty"`
	IssuerTag   string       `json:"issuerTag"`
	AudienceTag string       `json:"audienceTag,omitempty"`
	Subject     string       `json:"subject,omitempty"`
	ParentID    string       `json:"parentId,omitempty"`
	RootID      string       `json:"rootId,omitempty"`
	Content     any          `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   int64        `json:"createdAt"`
	ExpiresAt   int64        `json:"expiresAt,omitempty"`
	Status      *string      `json:"status,omitempty"`
}

// NewAction is the input shape for a locally originated action.
type NewAction struct {
	Type        string       `json:"type"`
	SubType     string       `json:"subType,omitempty"`
	AudienceTag string       `json:"audienceTag,omitempty"`
	Subject     string       `json:"subject,omitempty"`
	ParentID    string       `json:"parentId,omitempty"`
	Content     any          `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ExpiresAt   int64        `json:"expiresAt,omitempty"`
}

// Attachment variant flags. The flag block of a descriptor declares which
// renditions the issuer offers.
const (
	VariantHD    = 'h'
	VariantSD    = 's'
	VariantThumb = 't'
)

// Attachment describes the offered binary renditions of one attached file.
// Flags and VariantIDs map positionally: Flags[i] names the fidelity class
// of VariantIDs[i].
type Attachment struct {
	Flags      string   `json:"flags"`
	VariantIDs []string `json:"variantIds"`
}

var variantFlags = map[byte]bool{VariantHD: true, VariantSD: true, VariantThumb: true}

// ParseAttachment parses a wire descriptor of the form
// "<flags><variantId>[,<variantId>...]". The flag block is the longest
// prefix of distinct flag characters for which the remaining
// comma-separated id count equals the flag count; backtracking keeps the
// grammar unambiguous even when a variant id begins with a flag character.
func ParseAttachment(s string) (Attachment, error) {
	maxFlags := 0
	seen := map[byte]bool{}
	for maxFlags < len(s) && maxFlags < len(variantFlags) {
		c := s[maxFlags]
		if !variantFlags[c] || seen[c] {
			break
		}
		seen[c] = true
		maxFlags++
	}
	for n := maxFlags; n > 0; n-- {
		ids := strings.Split(s[n:], ",")
		if len(ids) != n {
			continue
		}
		ok := true
		for _, id := range ids {
			if id == "" {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		return Attachment{Flags: s[:n], VariantIDs: ids}, nil
	}
	return Attachment{}, fmt.Errorf("invalid attachment descriptor: %q", s)
}

// String re-encodes the descriptor in wire form.
func (a Attachment) String() string {
	return a.Flags + strings.Join(a.VariantIDs, ",")
}

// Variant returns the variant id offered for the given flag.
func (a Attachment) Variant(flag byte) (string, bool) {
	for i := 0; i < len(a.Flags) && i < len(a.VariantIDs); i++ {
		if a.Flags[i] == flag {
			return a.VariantIDs[i], true
		}
	}
	return "", false
}

// KeyInfo is one entry of a node's public key listing.
type KeyInfo struct {
	KeyID     string `json:"keyId"`
	PublicKey string `json:"publicKey"`
	Expires   int64  `json:"expires,omitempty"`
}

// KeyList is the response of the well-known key discovery endpoint.
type KeyList struct {
	Keys []KeyInfo `json:"keys"`
}

// AccessToken is the response of the access-token exchange endpoint.
type AccessToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

// AttachmentMeta is the metadata document served next to a blob variant.
type AttachmentMeta struct {
	FileID      string   `json:"fileId"`
	ContentType string   `json:"contentType"`
	FileName    string   `json:"fileName,omitempty"`
	CreatedAt   int64    `json:"createdAt,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Event is what the realtime bus delivers to locally connected clients.
type Event struct {
	Type   string  `json:"type"`
	Tenant string  `json:"tenant"`
	Action *Action `json:"action,omitempty"`
}

// Now returns the current Unix time. Indirection point for tests.
var Now = func() int64 { return time.Now().Unix() }
