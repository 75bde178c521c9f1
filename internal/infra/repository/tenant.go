package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/internal/domain"
	"github.com/cloudillo/federation/internal/infra/database/models"
)

type TenantRepository struct {
	db *gorm.DB
}

func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// SigningKey returns the newest unexpired signing key of a tenant.
func (r *TenantRepository) SigningKey(ctx context.Context, tenant string) (*domain.TenantKey, error) {
	var row models.TenantKey
	err := r.db.WithContext(ctx).
		Where("tenant = ? AND (expires_at = 0 OR expires_at > ?)", tenant, federation.Now()).
		Order("c_date DESC").
		Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, domain.NotFoundError{Resource: "tenant key"}
	}
	if err != nil {
		return nil, err
	}
	return &domain.TenantKey{
		Tenant:     row.Tenant,
		KeyID:      row.KeyID,
		PublicKey:  row.PublicKey,
		PrivateKey: row.PrivateKey,
		ExpiresAt:  row.ExpiresAt,
	}, nil
}

// ListKeys returns the tenant's unexpired keys for the discovery endpoint.
func (r *TenantRepository) ListKeys(ctx context.Context, tenant string) ([]domain.TenantKey, error) {
	var rows []models.TenantKey
	err := r.db.WithContext(ctx).
		Where("tenant = ? AND (expires_at = 0 OR expires_at > ?)", tenant, federation.Now()).
		Order("c_date").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	keys := make([]domain.TenantKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, domain.TenantKey{
			Tenant:    row.Tenant,
			KeyID:     row.KeyID,
			PublicKey: row.PublicKey,
			ExpiresAt: row.ExpiresAt,
		})
	}
	return keys, nil
}

// StoreKey installs a signing key for a tenant, typically at bootstrap.
func (r *TenantRepository) StoreKey(ctx context.Context, key domain.TenantKey) error {
	row := models.TenantKey{
		Tenant:     key.Tenant,
		KeyID:      key.KeyID,
		PublicKey:  key.PublicKey,
		PrivateKey: key.PrivateKey,
		ExpiresAt:  key.ExpiresAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoNothing: true,
	}).Create(&row).Error
}
