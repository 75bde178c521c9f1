package repository

import (
	"context"
	"encoding/json"

	"github.com/bradfitz/gomemcache/memcache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/internal/domain"
	"github.com/cloudillo/federation/internal/infra/database/models"
)

const profileCacheTTL = 60 // seconds

type ProfileRepository struct {
	db *gorm.DB
	mc *memcache.Client
}

// NewProfileRepository builds the profile store. mc may be nil; the
// repository then serves straight from postgres.
func NewProfileRepository(db *gorm.DB, mc *memcache.Client) *ProfileRepository {
	return &ProfileRepository{db: db, mc: mc}
}

func profileCacheKey(tenant, idTag string) string {
	return "profile:" + tenant + "|" + idTag
}

func (r *ProfileRepository) Get(ctx context.Context, tenant, idTag string) (*domain.Profile, error) {
	if r.mc != nil {
		if item, err := r.mc.Get(profileCacheKey(tenant, idTag)); err == nil {
			var profile domain.Profile
			if err := json.Unmarshal(item.Value, &profile); err == nil {
				return &profile, nil
			}
		}
	}

	var row models.Profile
	err := r.db.WithContext(ctx).
		Where("tenant = ? AND id_tag = ?", tenant, idTag).
		Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, domain.NotFoundError{Resource: "profile"}
	}
	if err != nil {
		return nil, err
	}

	profile := domain.Profile{
		Tenant:    row.Tenant,
		IDTag:     row.IDTag,
		Name:      row.Name,
		Type:      row.Type,
		Following: row.Following,
		Follower:  row.Follower,
		Connected: row.Connected,
		Status:    row.Status,
		SyncedAt:  row.SyncedAt,
	}

	if r.mc != nil {
		if b, err := json.Marshal(profile); err == nil {
			r.mc.Set(&memcache.Item{
				Key:        profileCacheKey(tenant, idTag),
				Value:      b,
				Expiration: profileCacheTTL,
			})
		}
	}
	return &profile, nil
}

// Ensure creates the profile on first contact; an existing row keeps its
// relationship flags and only refreshes the sync timestamp.
func (r *ProfileRepository) Ensure(ctx context.Context, tenant, idTag string) error {
	row := models.Profile{
		Tenant:   tenant,
		IDTag:    idTag,
		SyncedAt: federation.Now(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant"}, {Name: "id_tag"}},
		DoUpdates: clause.Assignments(map[string]any{"synced_at": row.SyncedAt}),
	}).Create(&row).Error
	if err != nil {
		return err
	}
	r.invalidate(tenant, idTag)
	return nil
}

func (r *ProfileRepository) ListFollowers(ctx context.Context, tenant string) ([]string, error) {
	var tags []string
	err := r.db.WithContext(ctx).Model(&models.Profile{}).
		Where("tenant = ? AND follower = ?", tenant, true).
		Where("status IS DISTINCT FROM ?", domain.ProfileStatusBlocked).
		Pluck("id_tag", &tags).Error
	if err != nil {
		return nil, err
	}
	return tags, nil
}

func (r *ProfileRepository) SetFollowing(ctx context.Context, tenant, idTag string, following bool) error {
	return r.setFlag(ctx, tenant, idTag, "following", following)
}

func (r *ProfileRepository) SetFollower(ctx context.Context, tenant, idTag string, follower bool) error {
	return r.setFlag(ctx, tenant, idTag, "follower", follower)
}

func (r *ProfileRepository) SetConnection(ctx context.Context, tenant, idTag string, state string) error {
	return r.setFlag(ctx, tenant, idTag, "connected", state)
}

func (r *ProfileRepository) setFlag(ctx context.Context, tenant, idTag, column string, value any) error {
	err := r.db.WithContext(ctx).Model(&models.Profile{}).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant"}, {Name: "id_tag"}},
		DoUpdates: clause.Assignments(map[string]any{column: value}),
	}).Create(map[string]any{
		"tenant":    tenant,
		"id_tag":    idTag,
		"synced_at": federation.Now(),
		column:      value,
	}).Error
	if err != nil {
		return err
	}
	r.invalidate(tenant, idTag)
	return nil
}

func (r *ProfileRepository) GetKey(ctx context.Context, tenant, idTag, keyID string) (*domain.ProfileKey, error) {
	var row models.ProfileKey
	err := r.db.WithContext(ctx).
		Where("tenant = ? AND id_tag = ? AND key_id = ?", tenant, idTag, keyID).
		Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, domain.NotFoundError{Resource: "profile key"}
	}
	if err != nil {
		return nil, err
	}
	return &domain.ProfileKey{
		Tenant:    row.Tenant,
		IDTag:     row.IDTag,
		KeyID:     row.KeyID,
		PublicKey: row.PublicKey,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

func (r *ProfileRepository) StoreKey(ctx context.Context, key domain.ProfileKey) error {
	row := models.ProfileKey{
		Tenant:    key.Tenant,
		IDTag:     key.IDTag,
		KeyID:     key.KeyID,
		PublicKey: key.PublicKey,
		ExpiresAt: key.ExpiresAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant"}, {Name: "id_tag"}, {Name: "key_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"public_key", "expires_at"}),
	}).Create(&row).Error
}

func (r *ProfileRepository) invalidate(tenant, idTag string) {
	if r.mc != nil {
		r.mc.Delete(profileCacheKey(tenant, idTag))
	}
}
