package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bourraOmar/Tirelire/internal/kyc"
	"github.com/bourraOmar/Tirelire/internal/logging"
	"github.com/bourraOmar/Tirelire/internal/repository"
)

// VerificationGate is the only view of the KYC subsystem other use cases
// may depend on. Callers never inspect verification flags themselves, so
// the gating policy can change without touching them.
type VerificationGate interface {
	EnsureVerified(ctx context.Context, userID string) (*repository.KycRecord, error)
}

// GroupStore defines the persistence operations needed by the group use case.
type GroupStore interface {
	Create(ctx context.Context, rec *repository.GroupRecord) error
	List(ctx context.Context, limit int) ([]*repository.GroupRecord, error)
}

// CreateGroupInput carries the fields for a new tontine group.
type CreateGroupInput struct {
	Name        string
	Amount      float64
	MemberLimit int
}

// GroupUseCase handles tontine group flows that sit behind the
// verification gate.
type GroupUseCase struct {
	store  GroupStore
	gate   VerificationGate
	logger *zap.Logger
}

// NewGroupUseCase constructs a new use case instance.
func NewGroupUseCase(store GroupStore, gate VerificationGate, logger *zap.Logger) *GroupUseCase {
	return &GroupUseCase{
		store:  store,
		gate:   gate,
		logger: logger.Named("group_usecase"),
	}
}

// CreateGroup creates a group for a verified user. Unverified creators are
// rejected by the gate before any validation or persistence happens.
func (uc *GroupUseCase) CreateGroup(ctx context.Context, creatorID string, in CreateGroupInput) (*repository.GroupRecord, error) {
	if _, err := uc.gate.EnsureVerified(ctx, creatorID); err != nil {
		return nil, err
	}

	in.Name = strings.TrimSpace(in.Name)
	var missing []string
	if in.Name == "" {
		missing = append(missing, "name")
	}
	if in.Amount <= 0 {
		missing = append(missing, "amount")
	}
	if in.MemberLimit < 2 {
		missing = append(missing, "memberLimit")
	}
	if len(missing) > 0 {
		return nil, kyc.NewValidationError(missing)
	}

	rec := &repository.GroupRecord{
		ID:          uuid.NewString(),
		Name:        in.Name,
		CreatorID:   creatorID,
		Amount:      in.Amount,
		MemberLimit: in.MemberLimit,
		MemberCount: 1,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := uc.store.Create(ctx, rec); err != nil {
		logging.WithOperation(uc.logger, "usecase.create_group", creatorID).Error("failed to persist group", zap.Error(err))
		return nil, err
	}
	return rec, nil
}

// Leaderboard lists groups ordered by member count for a verified caller.
func (uc *GroupUseCase) Leaderboard(ctx context.Context, userID string, limit int) ([]*repository.GroupRecord, error) {
	if _, err := uc.gate.EnsureVerified(ctx, userID); err != nil {
		return nil, err
	}
	return uc.store.List(ctx, limit)
}
