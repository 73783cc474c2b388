package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bourraOmar/Tirelire/internal/imagesource"
	"github.com/bourraOmar/Tirelire/internal/kyc"
	"github.com/bourraOmar/Tirelire/internal/logging"
	"github.com/bourraOmar/Tirelire/internal/recognizer"
	"github.com/bourraOmar/Tirelire/internal/repository"
)

const recordCacheTTL = 5 * time.Minute

// RecordStore defines the persistence operations needed by the KYC use case.
type RecordStore interface {
	Upsert(ctx context.Context, rec *repository.KycRecord) error
	RecordFailedMatch(ctx context.Context, rec *repository.KycRecord) error
	MarkVerifiedByID(ctx context.Context, id, idImageHash, selfieImageHash string) error
	MarkUnverifiedByID(ctx context.Context, id string) error
	FindByUserID(ctx context.Context, userID string) (*repository.KycRecord, error)
	FindByID(ctx context.Context, id string) (*repository.KycRecord, error)
	AggregateKycMetrics(ctx context.Context) (*repository.KycAggregation, error)
}

// ImageResolver turns a pair of image references into decoded images.
type ImageResolver interface {
	ResolvePair(ctx context.Context, a, b imagesource.Ref) (*imagesource.Image, *imagesource.Image, error)
}

// Matcher decides whether two images depict the same person.
type Matcher interface {
	Compare(ctx context.Context, idJPEG, selfieJPEG []byte) (*recognizer.Comparison, error)
}

// SubmitInput is the identity-field submission payload. Every field is
// required; there is no accepted optional subset.
type SubmitInput struct {
	FirstName   string
	LastName    string
	NationalID  string
	IDImage     string
	SelfieImage string
}

// KycUseCase orchestrates the verification pipeline: sourcing, comparison,
// persistence, and the access gate consumed by other subsystems.
type KycUseCase struct {
	store          RecordStore
	cache          Cache
	resolver       ImageResolver
	matcher        Matcher
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewKycUseCase constructs a new use case instance.
func NewKycUseCase(store RecordStore, cache Cache, resolver ImageResolver, matcher Matcher, logger *zap.Logger) *KycUseCase {
	return &KycUseCase{
		store:          store,
		cache:          cache,
		resolver:       resolver,
		matcher:        matcher,
		logger:         logger.Named("kyc_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Submit runs a full verification attempt for userID. On a successful match
// the record is upserted with fresh image hashes and ai_verified=true; on a
// mismatch the record keeps any previously stored hashes, ai_verified is
// persisted as false, and the caller receives the distance and threshold.
func (uc *KycUseCase) Submit(ctx context.Context, userID string, in SubmitInput) (*repository.KycRecord, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.submit_kyc", userID)

	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.NationalID = strings.TrimSpace(in.NationalID)

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"firstName", in.FirstName},
		{"lastName", in.LastName},
		{"nationalId", in.NationalID},
		{"idImage", in.IDImage},
		{"selfieImage", in.SelfieImage},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, kyc.NewValidationError(missing)
	}

	idRef, err := imagesource.ParseRef(in.IDImage)
	if err != nil {
		return nil, err
	}
	selfieRef, err := imagesource.ParseRef(in.SelfieImage)
	if err != nil {
		return nil, err
	}

	idImg, selfieImg, err := uc.resolver.ResolvePair(ctx, idRef, selfieRef)
	if err != nil {
		opLogger.Warn("image resolution failed", zap.Error(err))
		return nil, err
	}

	cmp, err := uc.matcher.Compare(ctx, idImg.JPEG, selfieImg.JPEG)
	if err != nil {
		opLogger.Warn("comparison failed", zap.Error(err))
		return nil, err
	}

	if !cmp.Matches {
		rec := &repository.KycRecord{
			ID:         uuid.NewString(),
			UserID:     userID,
			FirstName:  in.FirstName,
			LastName:   in.LastName,
			NationalID: in.NationalID,
			AIVerified: false,
			CreatedAt:  time.Now().UTC(),
			UpdatedAt:  time.Now().UTC(),
		}
		if err := uc.store.RecordFailedMatch(ctx, rec); err != nil {
			opLogger.Error("failed to persist rejected submission", zap.Error(err))
			return nil, err
		}
		uc.invalidateCachedRecord(ctx, userID)
		opLogger.Info("submission rejected",
			zap.Float64("distance", cmp.Distance),
			zap.Float64("threshold", cmp.Threshold))
		return nil, kyc.NewMatchFailed(cmp.Distance, cmp.Threshold)
	}

	rec := &repository.KycRecord{
		ID:              uuid.NewString(),
		UserID:          userID,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		NationalID:      in.NationalID,
		IDImageHash:     hashImageBytes(idImg.Raw),
		SelfieImageHash: hashImageBytes(selfieImg.Raw),
		AIVerified:      true,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := uc.store.Upsert(ctx, rec); err != nil {
		opLogger.Error("failed to persist verified submission", zap.Error(err))
		return nil, err
	}

	stored, err := uc.store.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	uc.cacheRecord(ctx, stored)
	opLogger.Info("submission verified",
		zap.Float64("distance", cmp.Distance),
		zap.Float64("threshold", cmp.Threshold))
	return stored, nil
}

// GetForUser returns the user's record, serving from cache when possible.
func (uc *KycUseCase) GetForUser(ctx context.Context, userID string) (*repository.KycRecord, error) {
	cacheKey := recordCacheKey(userID)
	if cached, err := uc.withRedisGet(ctx, userID, "cache.get.kyc_record", cacheKey); err == nil {
		var rec repository.KycRecord
		if err := json.Unmarshal([]byte(cached), &rec); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_kyc", userID).Warn("failed to decode cached record", zap.Error(err))
		} else {
			return &rec, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_kyc", userID).Warn("failed to read cache", zap.Error(err))
	}

	rec, err := uc.store.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	uc.cacheRecord(ctx, rec)
	return rec, nil
}

// GetByID is the administrative lookup, independent of the requesting user.
func (uc *KycUseCase) GetByID(ctx context.Context, id string) (*repository.KycRecord, error) {
	return uc.store.FindByID(ctx, id)
}

// AdminVerify re-runs the comparison for an existing record against freshly
// supplied images. The stored hashes are one-way and cannot be re-compared,
// so fresh references are mandatory. A match refreshes the hashes and sets
// ai_verified; a mismatch flips ai_verified to false and reports why.
func (uc *KycUseCase) AdminVerify(ctx context.Context, recordID, idImage, selfieImage string) (*repository.KycRecord, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.admin_verify", recordID)

	rec, err := uc.store.FindByID(ctx, recordID)
	if err != nil {
		return nil, err
	}

	var missing []string
	if strings.TrimSpace(idImage) == "" {
		missing = append(missing, "idImage")
	}
	if strings.TrimSpace(selfieImage) == "" {
		missing = append(missing, "selfieImage")
	}
	if len(missing) > 0 {
		return nil, kyc.NewValidationError(missing)
	}

	idRef, err := imagesource.ParseRef(idImage)
	if err != nil {
		return nil, err
	}
	selfieRef, err := imagesource.ParseRef(selfieImage)
	if err != nil {
		return nil, err
	}

	idImg, selfieImg, err := uc.resolver.ResolvePair(ctx, idRef, selfieRef)
	if err != nil {
		return nil, err
	}

	cmp, err := uc.matcher.Compare(ctx, idImg.JPEG, selfieImg.JPEG)
	if err != nil {
		return nil, err
	}

	if !cmp.Matches {
		if err := uc.store.MarkUnverifiedByID(ctx, recordID); err != nil {
			opLogger.Error("failed to persist rejected re-verification", zap.Error(err))
			return nil, err
		}
		uc.invalidateCachedRecord(ctx, rec.UserID)
		return nil, kyc.NewMatchFailed(cmp.Distance, cmp.Threshold)
	}

	if err := uc.store.MarkVerifiedByID(ctx, recordID, hashImageBytes(idImg.Raw), hashImageBytes(selfieImg.Raw)); err != nil {
		opLogger.Error("failed to persist re-verification", zap.Error(err))
		return nil, err
	}

	refreshed, err := uc.store.FindByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	uc.cacheRecord(ctx, refreshed)
	return refreshed, nil
}

// EnsureVerified is the access gate consumed by other subsystems. It
// succeeds when either verification flag is set and is the only interface
// those subsystems may use; none of them inspect record fields directly.
func (uc *KycUseCase) EnsureVerified(ctx context.Context, userID string) (*repository.KycRecord, error) {
	rec, err := uc.GetForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rec.AIVerified && !rec.AdminVerified {
		return nil, kyc.NewError(kyc.ErrAccessDenied, "KYC verification required", nil)
	}
	return rec, nil
}

func hashImageBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func recordCacheKey(userID string) string {
	return fmt.Sprintf("kyc:user:%s", userID)
}

// cacheRecord is best effort: a cache write failure degrades reads to the
// store but never fails the verification attempt itself.
func (uc *KycUseCase) cacheRecord(ctx context.Context, rec *repository.KycRecord) {
	serialized, err := json.Marshal(rec)
	if err != nil {
		logging.WithOperation(uc.logger, "cache.set.kyc_record", rec.UserID).Warn("failed to serialize record", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, rec.UserID, "cache.set.kyc_record", func() error {
		return uc.cache.Set(ctx, recordCacheKey(rec.UserID), string(serialized), recordCacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.set.kyc_record", rec.UserID).Warn("failed to cache record", zap.Error(err))
	}
}

func (uc *KycUseCase) invalidateCachedRecord(ctx context.Context, userID string) {
	if err := uc.withRedisRetry(ctx, userID, "cache.del.kyc_record", func() error {
		return uc.cache.Del(ctx, recordCacheKey(userID))
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.del.kyc_record", userID).Warn("failed to invalidate cached record", zap.Error(err))
	}
}

func (uc *KycUseCase) withRedisRetry(ctx context.Context, subjectID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, subjectID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, subjectID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, subjectID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, subjectID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, subjectID, err)
}

func (uc *KycUseCase) withRedisGet(ctx context.Context, subjectID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, subjectID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
