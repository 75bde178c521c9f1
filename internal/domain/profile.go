package domain

// Profile is the per-tenant cache of a remote identity: display info,
// relationship flags and the last sync timestamp. Created lazily on first
// contact, refreshed when stale.
type Profile struct {
	Tenant    string `json:"tenant"`
	IDTag     string `json:"idTag"`
	Name      string `json:"name,omitempty"`
	Type      string `json:"type,omitempty"` // person, community
	Following bool   `json:"following"`
	Follower  bool   `json:"follower"`
	Connected string `json:"connected,omitempty"` // "", requested, connected
	Status    string `json:"status,omitempty"`    // "", blocked
	SyncedAt  int64  `json:"syncedAt,omitempty"`
}

// Blocked profile status.
const ProfileStatusBlocked = "blocked"

// ProfileKey is one cached public key of a remote identity.
type ProfileKey struct {
	Tenant    string `json:"tenant"`
	IDTag     string `json:"idTag"`
	KeyID     string `json:"keyId"`
	PublicKey string `json:"publicKey"`
	ExpiresAt int64  `json:"expiresAt"`
}

// TenantKey is a local signing key of a hosted identity.
type TenantKey struct {
	Tenant     string `json:"tenant"`
	KeyID      string `json:"keyId"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"-"`
	ExpiresAt  int64  `json:"expiresAt,omitempty"`
}
