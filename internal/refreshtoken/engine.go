package refreshtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mehmetcc/session-token-service/internal/metrics"
	"github.com/mehmetcc/session-token-service/internal/token"
	"github.com/mehmetcc/session-token-service/internal/utils"
)

const DefaultStoreTimeout = 3 * time.Second

// RotationResult identifies the lineage a consumed token belonged to.
type RotationResult struct {
	UserID   uint
	FamilyID string
}

// Engine enforces single use of refresh tokens. Presenting a token that
// was already consumed revokes its whole family.
type Engine struct {
	repo    RecordRepository
	clock   utils.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewEngine(repo RecordRepository, clock utils.Clock, logger *zap.Logger, m *metrics.Metrics, storeTimeout time.Duration) *Engine {
	if clock == nil {
		clock = utils.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &Engine{
		repo:    repo,
		clock:   clock,
		logger:  logger,
		metrics: m,
		timeout: storeTimeout,
	}
}

// IssueInitial records the first token of a new family.
func (e *Engine) IssueInitial(ctx context.Context, userID uint, refreshToken string, expiresAt time.Time) (*RefreshTokenRecord, error) {
	return e.IssueInFamily(ctx, NewFamilyID(), userID, refreshToken, expiresAt)
}

// IssueInFamily records a token in an existing family, normally right after
// Rotate consumed its predecessor. A family that was revoked in the meantime
// refuses the new record.
func (e *Engine) IssueInFamily(ctx context.Context, familyID string, userID uint, refreshToken string, expiresAt time.Time) (*RefreshTokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	record := &RefreshTokenRecord{
		UserID:    userID,
		Token:     Digest(refreshToken),
		FamilyID:  familyID,
		ExpiresAt: expiresAt,
	}
	if err := e.repo.Save(ctx, record); err != nil {
		if errors.Is(err, ErrFamilyCompromised) {
			e.logger.Warn("refused token for compromised family",
				zap.String("family_id", familyID),
				zap.Uint("user_id", userID),
			)
			return nil, token.ErrInvalidToken
		}
		return nil, e.storeFailure(ctx, "issue", err)
	}
	return record, nil
}

// Rotate consumes refreshToken. The caller mints the successor and records
// it with IssueInFamily under the returned family.
func (e *Engine) Rotate(ctx context.Context, refreshToken string) (*RotationResult, error) {
	record, err := e.consume(ctx, refreshToken, ReasonConsumed)
	if err != nil {
		return nil, err
	}
	e.metrics.Rotation(metrics.RotationRotated)
	e.logger.Debug("refresh token rotated",
		zap.Uint("user_id", record.UserID),
		zap.String("family_id", record.FamilyID),
	)
	return &RotationResult{UserID: record.UserID, FamilyID: record.FamilyID}, nil
}

// Release revokes a single active token on logout. The rest of the family
// is left alone unless the token turns out to be a replay.
func (e *Engine) Release(ctx context.Context, refreshToken string) error {
	record, err := e.consume(ctx, refreshToken, ReasonLoggedOut)
	if err != nil {
		return err
	}
	e.logger.Info("refresh token released",
		zap.Uint("user_id", record.UserID),
		zap.String("family_id", record.FamilyID),
	)
	return nil
}

// RevokeFamily revokes every token of the family. It is idempotent.
func (e *Engine) RevokeFamily(ctx context.Context, familyID string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	revoked, err := e.repo.RevokeFamily(ctx, familyID)
	if err != nil {
		return fmt.Errorf("revoke family: %w", err)
	}
	e.metrics.FamilyRevoked(revoked)
	e.logger.Warn("token family revoked",
		zap.String("family_id", familyID),
		zap.Int64("revoked", revoked),
	)
	return nil
}

// Lineage lists every record of a family, oldest first.
func (e *Engine) Lineage(ctx context.Context, familyID string) ([]RefreshTokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	records, err := e.repo.FindAllByFamily(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("lineage: %w", err)
	}
	return records, nil
}

// Now exposes the engine clock so record states can be derived consistently.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

func (e *Engine) consume(ctx context.Context, refreshToken string, reason RevokeReason) (*RefreshTokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	record, err := e.repo.FindByToken(ctx, Digest(refreshToken))
	if errors.Is(err, ErrRecordNotFoundByGivenToken) {
		e.metrics.Rotation(metrics.RotationUnknown)
		e.logger.Debug("refresh token not on record")
		return nil, token.ErrInvalidToken
	}
	if err != nil {
		return nil, e.storeFailure(ctx, "lookup", err)
	}

	if record.IsRevoked {
		e.reuseDetected(ctx, record)
		return nil, token.ErrInvalidToken
	}
	if record.Expired(e.clock.Now()) {
		e.metrics.Rotation(metrics.RotationExpired)
		e.logger.Debug("refresh token expired",
			zap.Uint("user_id", record.UserID),
			zap.String("family_id", record.FamilyID),
		)
		return nil, token.ErrInvalidToken
	}

	won, err := e.repo.MarkRevoked(ctx, record, reason)
	if err != nil {
		return nil, e.storeFailure(ctx, "consume", err)
	}
	if !won {
		// Another request consumed the same token between our read and write.
		e.reuseDetected(ctx, record)
		return nil, token.ErrInvalidToken
	}
	return record, nil
}

// reuseDetected runs the family cascade detached from the request context:
// a client hanging up must not stop the revocation.
func (e *Engine) reuseDetected(ctx context.Context, record *RefreshTokenRecord) {
	e.metrics.Rotation(metrics.RotationReused)
	e.logger.Warn("refresh token reuse detected",
		zap.Uint("user_id", record.UserID),
		zap.String("family_id", record.FamilyID),
		zap.Uint("record_id", record.ID),
	)
	if err := e.RevokeFamily(context.WithoutCancel(ctx), record.FamilyID); err != nil {
		e.logger.Error("family revocation failed",
			zap.String("family_id", record.FamilyID),
			zap.Error(err),
		)
	}
}

// storeFailure turns a deadline or cancellation into a uniform rejection so
// the caller never half-completes a rotation. Other failures surface as-is.
func (e *Engine) storeFailure(ctx context.Context, op string, err error) error {
	e.metrics.Rotation(metrics.RotationFailed)
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		e.logger.Warn("refresh token store timed out", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%w: %w", token.ErrInvalidToken, err)
	}
	e.logger.Error("refresh token store failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}
