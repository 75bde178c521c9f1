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

// rootHealDepth bounds the downward root propagation; parent chains are
// hash-linked, so anything deeper is a malformed graph.
const rootHealDepth = 64

type ActionRepository struct {
	db *gorm.DB
}

func NewActionRepository(db *gorm.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

// Create persists one action atomically. Re-persisting a known action id
// reports created=false and changes nothing, which makes retried delivery
// safe. A non-empty dedupKey supersedes the previous action holding the
// same key. Newly stored actions propagate their root downward to any
// children that arrived before them.
func (r *ActionRepository) Create(ctx context.Context, tenant string, action federation.Action, rawToken, dedupKey string) (bool, error) {
	row, err := toModel(tenant, action, rawToken, dedupKey)
	if err != nil {
		return false, err
	}

	created := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {

		if dedupKey != "" {
			var old models.Action
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("tenant = ? AND dedup_key = ?", tenant, dedupKey).
				Take(&old).Error
			if err != nil && err != gorm.ErrRecordNotFound {
				return err
			}
			if err == nil && old.ActionID != row.ActionID {
				if err := tx.Delete(&models.Action{}, "tenant = ? AND action_id = ?", tenant, old.ActionID).Error; err != nil {
					return err
				}
			}
		}

		res := tx.Clauses(clause.OnConflict{
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
		if !created {
			return nil
		}

		return r.healRoots(tx, tenant, &row)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// healRoots pushes the freshly stored action's root onto descendants that
// were ingested before their ancestors. Concurrent ingestion of one chain
// may race here; last write wins and the chain converges once every link
// is present.
func (r *ActionRepository) healRoots(tx *gorm.DB, tenant string, row *models.Action) error {
	rootID := row.RootID
	if rootID == "" {
		rootID = row.ActionID
	}

	frontier := []string{row.ActionID}
	for depth := 0; depth < rootHealDepth && len(frontier) > 0; depth++ {
		var childIDs []string
		err := tx.Model(&models.Action{}).
			Where("tenant = ? AND parent_id IN ?", tenant, frontier).
			Pluck("action_id", &childIDs).Error
		if err != nil {
			return err
		}
		if len(childIDs) == 0 {
			return nil
		}
		err = tx.Model(&models.Action{}).
			Where("tenant = ? AND parent_id IN ?", tenant, frontier).
			Update("root_id", rootID).Error
		if err != nil {
			return err
		}
		frontier = childIDs
	}
	return nil
}

func (r *ActionRepository) Get(ctx context.Context, tenant, actionID string) (*federation.Action, error) {
	var row models.Action
	err := r.db.WithContext(ctx).
		Where("tenant = ? AND action_id = ?", tenant, actionID).
		Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, domain.NotFoundError{Resource: "action"}
	}
	if err != nil {
		return nil, err
	}
	return fromModel(&row)
}

// GetToken returns the raw signed token of a stored action.
func (r *ActionRepository) GetToken(ctx context.Context, tenant, actionID string) (string, error) {
	var row models.Action
	err := r.db.WithContext(ctx).
		Select("token").
		Where("tenant = ? AND action_id = ?", tenant, actionID).
		Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", domain.NotFoundError{Resource: "action"}
	}
	if err != nil {
		return "", err
	}
	return row.Token, nil
}

func (r *ActionRepository) SetStatus(ctx context.Context, tenant, actionID string, status *string) error {
	res := r.db.WithContext(ctx).Model(&models.Action{}).
		Where("tenant = ? AND action_id = ?", tenant, actionID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "action"}
	}
	return nil
}

// ListByRoot returns a thread in creation order.
func (r *ActionRepository) ListByRoot(ctx context.Context, tenant, rootID string) ([]federation.Action, error) {
	var rows []models.Action
	err := r.db.WithContext(ctx).
		Where("tenant = ? AND (root_id = ? OR action_id = ?)", tenant, rootID, rootID).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	actions := make([]federation.Action, 0, len(rows))
	for i := range rows {
		a, err := fromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		actions = append(actions, *a)
	}
	return actions, nil
}

func toModel(tenant string, action federation.Action, rawToken, dedupKey string) (models.Action, error) {
	content := ""
	if action.Content != nil {
		b, err := json.Marshal(action.Content)
		if err != nil {
			return models.Action{}, err
		}
		content = string(b)
	}

	attachments := ""
	if len(action.Attachments) > 0 {
		b, err := json.Marshal(action.Attachments)
		if err != nil {
			return models.Action{}, err
		}
		attachments = string(b)
	}

	var dedup *string
	if dedupKey != "" {
		dedup = &dedupKey
	}

	return models.Action{
		Tenant:      tenant,
		ActionID:    action.ActionID,
		Type:        action.Type,
		SubType:     action.SubType,
		IssuerTag:   action.IssuerTag,
		AudienceTag: action.AudienceTag,
		Subject:     action.Subject,
		ParentID:    action.ParentID,
		RootID:      action.RootID,
		Content:     content,
		Attachments: attachments,
		Token:       rawToken,
		DedupKey:    dedup,
		CreatedAt:   action.CreatedAt,
		ExpiresAt:   action.ExpiresAt,
		Status:      action.Status,
	}, nil
}

func fromModel(row *models.Action) (*federation.Action, error) {
	action := federation.Action{
		ActionID:    row.ActionID,
		Type:        row.Type,
		SubType:     row.SubType,
		IssuerTag:   row.IssuerTag,
		AudienceTag: row.AudienceTag,
		Subject:     row.Subject,
		ParentID:    row.ParentID,
		RootID:      row.RootID,
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
		Status:      row.Status,
	}
	if row.Content != "" {
		if err := json.Unmarshal([]byte(row.Content), &action.Content); err != nil {
			return nil, err
		}
	}
	if row.Attachments != "" {
		if err := json.Unmarshal([]byte(row.Attachments), &action.Attachments); err != nil {
			return nil, err
		}
	}
	return &action, nil
}
