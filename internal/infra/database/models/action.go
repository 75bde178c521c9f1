package models

import (
	"time"
)

// Action is the durable row of one federated action. Token keeps the raw
// signed bytes so the record can be re-verified or relayed.
type Action struct {
	Tenant      string  `json:"tenant" gorm:"primaryKey;type:text;uniqueIndex:uniq_action_dedup,priority:1"`
	ActionID    string  `json:"actionId" gorm:"primaryKey;type:text"`
	Type        string  `json:"type" gorm:"type:text;index"`
	SubType     string  `json:"subType" gorm:"type:text"`
	IssuerTag   string  `json:"issuerTag" gorm:"type:text;index"`
	AudienceTag string  `json:"audienceTag" gorm:"type:text"`
	Subject     string  `json:"subject" gorm:"type:text"`
	ParentID    string  `json:"parentId" gorm:"type:text;index"`
	RootID      string  `json:"rootId" gorm:"type:text;index"`
	Content     string  `json:"content" gorm:"type:text"`
	Attachments string  `json:"attachments" gorm:"type:text"`
	Token       string  `json:"-" gorm:"type:text"`
	DedupKey    *string `json:"-" gorm:"type:text;uniqueIndex:uniq_action_dedup,priority:2"`
	CreatedAt   int64   `json:"createdAt" gorm:"type:bigint"`
	ExpiresAt   int64   `json:"expiresAt" gorm:"type:bigint"`
	Status      *string `json:"status" gorm:"type:text"`

	CDate time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// AttachmentMeta records the metadata of a replicated blob variant.
type AttachmentMeta struct {
	Tenant      string `json:"tenant" gorm:"primaryKey;type:text"`
	VariantID   string `json:"variantId" gorm:"primaryKey;type:text"`
	FileID      string `json:"fileId" gorm:"type:text;index"`
	ContentType string `json:"contentType" gorm:"type:text"`
	FileName    string `json:"fileName" gorm:"type:text"`
	CreatedAt   int64  `json:"createdAt" gorm:"type:bigint"`
	Tags        string `json:"tags" gorm:"type:text"`

	CDate time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}
