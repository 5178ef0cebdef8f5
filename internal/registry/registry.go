// Package registry stores browser push subscriptions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pathakanu/pushminder/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no subscription matches.
var ErrNotFound = errors.New("subscription not found")

// Registry persists PushSubscription rows. Rows are only ever soft-deleted.
type Registry struct {
	db  *gorm.DB
	now func() time.Time
}

// New returns a registry backed by db.
func New(db *gorm.DB) *Registry {
	return &Registry{db: db, now: time.Now}
}

// Upsert registers sub, or refreshes the keys, last-seen time and active
// flag of the existing row for the same owner and endpoint.
func (r *Registry) Upsert(ctx context.Context, sub *model.PushSubscription) (*model.PushSubscription, error) {
	sub.Active = true
	if sub.LastSeenAt.IsZero() {
		sub.LastSeenAt = r.now()
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}, {Name: "endpoint_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"endpoint", "p256dh", "auth", "last_seen_at", "active", "updated_at",
		}),
	}).Create(sub).Error
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}

	var stored model.PushSubscription
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND endpoint_hash = ?", sub.TenantID, sub.UserID, sub.EndpointHash).
		First(&stored).Error; err != nil {
		return nil, fmt.Errorf("reload subscription: %w", err)
	}
	return &stored, nil
}

// ActiveForOwner lists the owner's active subscriptions, oldest first.
func (r *Registry) ActiveForOwner(ctx context.Context, owner model.Owner) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND active = ?", owner.TenantID, owner.UserID, true).
		Order("created_at ASC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// Deactivate marks a subscription as permanently gone.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&model.PushSubscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"active": false, "updated_at": r.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Unsubscribe deactivates the owner's subscription for endpoint.
func (r *Registry) Unsubscribe(ctx context.Context, owner model.Owner, endpoint string) error {
	res := r.db.WithContext(ctx).Model(&model.PushSubscription{}).
		Where("tenant_id = ? AND user_id = ? AND endpoint_hash = ?", owner.TenantID, owner.UserID, model.HashEndpoint(endpoint)).
		Updates(map[string]interface{}{"active": false, "updated_at": r.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a subscription by id, active or not.
func (r *Registry) Get(ctx context.Context, id string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
