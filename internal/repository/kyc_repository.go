package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bourraOmar/Tirelire/internal/kyc"
)

// KycRecord is the one-per-user verification record. Image hashes are
// one-way digests computed after a successful match; raw image bytes are
// never persisted.
type KycRecord struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	UserID          string    `gorm:"column:user_id;uniqueIndex;size:64;not null" json:"userId"`
	FirstName       string    `gorm:"column:first_name;size:128" json:"firstName"`
	LastName        string    `gorm:"column:last_name;size:128" json:"lastName"`
	NationalID      string    `gorm:"column:national_id;size:64" json:"nationalId"`
	IDImageHash     string    `gorm:"column:id_image_hash;size:64" json:"idImageHash"`
	SelfieImageHash string    `gorm:"column:selfie_image_hash;size:64" json:"selfieImageHash"`
	AIVerified      bool      `gorm:"column:ai_verified" json:"aiVerified"`
	AdminVerified   bool      `gorm:"column:admin_verified" json:"adminVerified"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName overrides the default table name.
func (KycRecord) TableName() string {
	return "kyc_records"
}

// KycAggregation holds counters used by the metrics summary.
type KycAggregation struct {
	Total         int64
	AIVerified    int64
	AdminVerified int64
	Verified      int64
}

// KycRepository provides persistence APIs for verification records.
type KycRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewKycRepository creates a new repository instance.
func NewKycRepository(db *gorm.DB, logger *zap.Logger) *KycRepository {
	return &KycRepository{
		db:             db,
		logger:         logger.Named("kyc_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *KycRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&KycRecord{})
}

// Upsert writes a successfully matched submission in a single atomic
// statement keyed on user_id: identity fields, fresh hashes and the
// automated flag are replaced, admin_verified is never touched.
func (r *KycRepository) Upsert(ctx context.Context, rec *KycRecord) error {
	return r.executeWithRetry(ctx, "repository.upsert_kyc", rec.UserID, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"first_name", "last_name", "national_id",
				"id_image_hash", "selfie_image_hash",
				"ai_verified", "updated_at",
			}),
		}).Create(rec).Error
	})
}

// RecordFailedMatch persists a submission whose comparison did not clear the
// threshold: identity fields and ai_verified=false are written, but the
// stored hashes from a previous successful match are left intact.
func (r *KycRepository) RecordFailedMatch(ctx context.Context, rec *KycRecord) error {
	rec.AIVerified = false
	return r.executeWithRetry(ctx, "repository.record_failed_match", rec.UserID, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"first_name", "last_name", "national_id",
				"ai_verified", "updated_at",
			}),
		}).Create(rec).Error
	})
}

// MarkVerifiedByID refreshes the stored hashes and sets ai_verified after a
// successful administrative re-run.
func (r *KycRepository) MarkVerifiedByID(ctx context.Context, id, idImageHash, selfieImageHash string) error {
	return r.executeWithRetry(ctx, "repository.mark_verified", id, func() error {
		res := r.db.WithContext(ctx).Model(&KycRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
			"id_image_hash":     idImageHash,
			"selfie_image_hash": selfieImageHash,
			"ai_verified":       true,
			"updated_at":        time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return kyc.NewError(kyc.ErrNotFound, "KYC record not found", nil)
		}
		return nil
	})
}

// MarkUnverifiedByID flips ai_verified to false, leaving hashes untouched.
func (r *KycRepository) MarkUnverifiedByID(ctx context.Context, id string) error {
	return r.executeWithRetry(ctx, "repository.mark_unverified", id, func() error {
		res := r.db.WithContext(ctx).Model(&KycRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
			"ai_verified": false,
			"updated_at":  time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return kyc.NewError(kyc.ErrNotFound, "KYC record not found", nil)
		}
		return nil
	})
}

// FindByUserID retrieves the record owned by a user.
func (r *KycRepository) FindByUserID(ctx context.Context, userID string) (*KycRecord, error) {
	var rec KycRecord
	if err := r.db.WithContext(ctx).First(&rec, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kyc.NewError(kyc.ErrNotFound, "KYC record not found", err)
		}
		return nil, err
	}
	return &rec, nil
}

// FindByID retrieves a record by its identifier, independent of the owner.
func (r *KycRepository) FindByID(ctx context.Context, id string) (*KycRecord, error) {
	var rec KycRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kyc.NewError(kyc.ErrNotFound, "KYC record not found", err)
		}
		return nil, err
	}
	return &rec, nil
}

// AggregateKycMetrics counts records per verification state.
func (r *KycRepository) AggregateKycMetrics(ctx context.Context) (*KycAggregation, error) {
	var agg KycAggregation
	err := r.db.WithContext(ctx).Model(&KycRecord{}).
		Select(
			"COUNT(*) AS total",
			"COUNT(*) FILTER (WHERE ai_verified) AS ai_verified",
			"COUNT(*) FILTER (WHERE admin_verified) AS admin_verified",
			"COUNT(*) FILTER (WHERE ai_verified OR admin_verified) AS verified",
		).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
