// Package refreshtoken persists issued refresh tokens and runs the
// rotate-and-detect-reuse protocol over them.
package refreshtoken

import (
	"context"
	"errors"
)

var (
	ErrRecordNotFoundByGivenToken = errors.New("record not found by given token")
	ErrUnresponsiveDatabase       = errors.New("error occurred during access to refresh token records")
)

// RecordRepository is the persistence port for refresh token records. It
// carries no business rules. Tokens are addressed by their Digest.
type RecordRepository interface {
	// Save creates the record. Saving a digest that already exists loads
	// the stored row into record instead of failing.
	Save(ctx context.Context, record *RefreshTokenRecord) error

	// FindByToken returns ErrRecordNotFoundByGivenToken when absent.
	FindByToken(ctx context.Context, digest string) (*RefreshTokenRecord, error)

	FindAllByFamily(ctx context.Context, familyID string) ([]RefreshTokenRecord, error)

	// MarkRevoked flips IsRevoked from false to true with the given reason.
	// It reports false when the record was already revoked, which makes it
	// usable as a compare-and-set between concurrent rotations.
	MarkRevoked(ctx context.Context, record *RefreshTokenRecord, reason RevokeReason) (bool, error)

	// RevokeFamily revokes every record of the family and tombstones the
	// family as compromised, in a unit of work of its own. It returns the
	// number of records that were still active. A family with no records
	// is left untouched.
	RevokeFamily(ctx context.Context, familyID string) (int64, error)
}
