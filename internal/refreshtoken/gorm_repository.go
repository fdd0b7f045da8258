package refreshtoken

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrFamilyCompromised is returned by Save when the target family has
// already been revoked by reuse detection.
var ErrFamilyCompromised = errors.New("token family compromised")

type recordRepository struct {
	db *gorm.DB
}

// NewRecordRepository returns the Postgres-backed repository.
func NewRecordRepository(db *gorm.DB) RecordRepository {
	return &recordRepository{db: db}
}

// lockFamily serializes Save and RevokeFamily on one family for the rest
// of the transaction.
func lockFamily(tx *gorm.DB, familyID string) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", familyID).Error
}

func (r *recordRepository) Save(ctx context.Context, record *RefreshTokenRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFamily(tx, record.FamilyID); err != nil {
			return fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, err)
		}

		var compromised int64
		if err := tx.Model(&RefreshTokenRecord{}).
			Where("family_id = ? AND compromised = ?", record.FamilyID, true).
			Count(&compromised).Error; err != nil {
			return fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, err)
		}
		if compromised > 0 {
			return ErrFamilyCompromised
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoNothing: true,
		}).Create(record)
		if res.Error != nil {
			return fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, res.Error)
		}
		if res.RowsAffected == 0 {
			if err := tx.Where("token = ?", record.Token).First(record).Error; err != nil {
				return fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, err)
			}
		}
		return nil
	})
}

func (r *recordRepository) FindByToken(ctx context.Context, digest string) (*RefreshTokenRecord, error) {
	var record RefreshTokenRecord
	err := r.db.WithContext(ctx).
		Where("token = ?", digest).
		First(&record).
		Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFoundByGivenToken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, err)
	}
	return &record, nil
}

func (r *recordRepository) FindAllByFamily(ctx context.Context, familyID string) ([]RefreshTokenRecord, error) {
	var records []RefreshTokenRecord
	err := r.db.WithContext(ctx).
		Where("family_id = ?", familyID).
		Order("id").
		Find(&records).
		Error
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, err)
	}
	return records, nil
}

func (r *recordRepository) MarkRevoked(ctx context.Context, record *RefreshTokenRecord, reason RevokeReason) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&RefreshTokenRecord{}).
		Where("id = ? AND is_revoked = ?", record.ID, false).
		Updates(map[string]any{
			"is_revoked":     true,
			"revoked_reason": reason,
		})
	if res.Error != nil {
		return false, fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	record.IsRevoked = true
	record.RevokedReason = reason
	return true, nil
}

func (r *recordRepository) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	var revoked int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFamily(tx, familyID); err != nil {
			return err
		}

		res := tx.Model(&RefreshTokenRecord{}).
			Where("family_id = ? AND is_revoked = ?", familyID, false).
			Updates(map[string]any{
				"is_revoked":     true,
				"revoked_reason": ReasonCompromised,
				"compromised":    true,
			})
		if res.Error != nil {
			return res.Error
		}
		revoked = res.RowsAffected

		return tx.Model(&RefreshTokenRecord{}).
			Where("family_id = ? AND compromised = ?", familyID, false).
			Update("compromised", true).
			Error
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, err)
	}
	return revoked, nil
}
