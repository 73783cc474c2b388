package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bourraOmar/Tirelire/internal/kyc"
)

// GroupRecord is a tontine savings group. Creation is gated on the
// creator's verification state.
type GroupRecord struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"column:name;size:128;not null" json:"name"`
	CreatorID   string    `gorm:"column:creator_id;size:64;index;not null" json:"creatorId"`
	Amount      float64   `gorm:"column:amount" json:"amount"`
	MemberLimit int       `gorm:"column:member_limit" json:"memberLimit"`
	MemberCount int       `gorm:"column:member_count" json:"memberCount"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName overrides the default table name.
func (GroupRecord) TableName() string {
	return "tontine_groups"
}

// GroupRepository provides persistence APIs for tontine groups.
type GroupRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGroupRepository creates a new repository instance.
func NewGroupRepository(db *gorm.DB, logger *zap.Logger) *GroupRepository {
	return &GroupRepository{db: db, logger: logger.Named("group_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *GroupRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&GroupRecord{})
}

// Create persists a new group.
func (r *GroupRepository) Create(ctx context.Context, rec *GroupRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// FindByID retrieves a group by identifier.
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*GroupRecord, error) {
	var rec GroupRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kyc.NewError(kyc.ErrNotFound, "group not found", err)
		}
		return nil, err
	}
	return &rec, nil
}

// List returns up to limit groups ordered by member count, largest first.
func (r *GroupRepository) List(ctx context.Context, limit int) ([]*GroupRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []*GroupRecord
	if err := r.db.WithContext(ctx).
		Order("member_count DESC, created_at ASC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
