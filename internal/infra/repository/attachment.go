package repository

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/internal/domain"
	"github.com/cloudillo/federation/internal/infra/database/models"
)

type AttachmentRepository struct {
	db *gorm.DB
}

func NewAttachmentRepository(db *gorm.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

func (r *AttachmentRepository) StoreMeta(ctx context.Context, tenant, variantID string, meta federation.AttachmentMeta) error {
	tags := ""
	if len(meta.Tags) > 0 {
		b, err := json.Marshal(meta.Tags)
		if err != nil {
			return err
		}
		tags = string(b)
	}

	row := models.AttachmentMeta{
		Tenant:      tenant,
		VariantID:   variantID,
		FileID:      meta.FileID,
		ContentType: meta.ContentType,
		FileName:    meta.FileName,
		CreatedAt:   meta.CreatedAt,
		Tags:        tags,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoNothing: true,
	}).Create(&row).Error
}

func (r *AttachmentRepository) GetMeta(ctx context.Context, tenant, variantID string) (*federation.AttachmentMeta, error) {
	var row models.AttachmentMeta
	err := r.db.WithContext(ctx).
		Where("tenant = ? AND variant_id = ?", tenant, variantID).
		Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, domain.NotFoundError{Resource: "attachment"}
	}
	if err != nil {
		return nil, err
	}

	meta := federation.AttachmentMeta{
		FileID:      row.FileID,
		ContentType: row.ContentType,
		FileName:    row.FileName,
		CreatedAt:   row.CreatedAt,
	}
	if row.Tags != "" {
		if err := json.Unmarshal([]byte(row.Tags), &meta.Tags); err != nil {
			return nil, err
		}
	}
	return &meta, nil
}
