package models

import (
	"time"
)

// Profile caches what the tenant knows about a remote identity.
type Profile struct {
	Tenant    string `json:"tenant" gorm:"primaryKey;type:text"`
	IDTag     string `json:"idTag" gorm:"primaryKey;type:text"`
	Name      string `json:"name" gorm:"type:text"`
	Type      string `json:"type" gorm:"type:text"`
	Following bool   `json:"following" gorm:"type:boolean;not null;default:false"`
	Follower  bool   `json:"follower" gorm:"type:boolean;not null;default:false;index"`
	Connected string `json:"connected" gorm:"type:text"`
	Status    string `json:"status" gorm:"type:text"`
	SyncedAt  int64  `json:"syncedAt" gorm:"type:bigint"`

	CDate time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// ProfileKey is a cached remote public key with its declared expiry.
type ProfileKey struct {
	Tenant    string `json:"tenant" gorm:"primaryKey;type:text"`
	IDTag     string `json:"idTag" gorm:"primaryKey;type:text"`
	KeyID     string `json:"keyId" gorm:"primaryKey;type:text"`
	PublicKey string `json:"publicKey" gorm:"type:text"`
	ExpiresAt int64  `json:"expiresAt" gorm:"type:bigint"`

	CDate time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// TenantKey is a local signing key of a hosted identity.
type TenantKey struct {
	Tenant     string `json:"tenant" gorm:"primaryKey;type:text"`
	KeyID      string `json:"keyId" gorm:"primaryKey;type:text"`
	PublicKey  string `json:"publicKey" gorm:"type:text"`
	PrivateKey string `json:"-" gorm:"type:text"`
	ExpiresAt  int64  `json:"expiresAt" gorm:"type:bigint"`

	CDate time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}
