package refreshtoken

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/mehmetcc/session-token-service/internal/utils"
)

// memoryRepository keeps records in process memory. It backs tests and
// single-instance development runs; every method holds one lock, which
// gives the same per-family serialization the durable stores provide.
type memoryRepository struct {
	mu       sync.Mutex
	clock    utils.Clock
	nextID   uint
	byDigest map[string]*RefreshTokenRecord
	byFamily map[string][]string
	tomb     map[string]bool
}

func NewMemoryRepository(clock utils.Clock) RecordRepository {
	if clock == nil {
		clock = utils.SystemClock()
	}
	return &memoryRepository{
		clock:    clock,
		byDigest: make(map[string]*RefreshTokenRecord),
		byFamily: make(map[string][]string),
		tomb:     make(map[string]bool),
	}
}

func (m *memoryRepository) Save(ctx context.Context, record *RefreshTokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tomb[record.FamilyID] {
		return ErrFamilyCompromised
	}
	if existing, ok := m.byDigest[record.Token]; ok {
		*record = *existing
		return nil
	}

	now := m.clock.Now()
	m.nextID++
	record.ID = m.nextID
	record.CreatedAt = now
	record.UpdatedAt = now
	record.DeletedAt = gorm.DeletedAt{}

	stored := *record
	m.byDigest[record.Token] = &stored
	m.byFamily[record.FamilyID] = append(m.byFamily[record.FamilyID], record.Token)
	return nil
}

func (m *memoryRepository) FindByToken(ctx context.Context, digest string) (*RefreshTokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byDigest[digest]
	if !ok {
		return nil, ErrRecordNotFoundByGivenToken
	}
	out := *stored
	return &out, nil
}

func (m *memoryRepository) FindAllByFamily(ctx context.Context, familyID string) ([]RefreshTokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	digests := m.byFamily[familyID]
	out := make([]RefreshTokenRecord, 0, len(digests))
	for _, d := range digests {
		out = append(out, *m.byDigest[d])
	}
	sortByID(out)
	return out, nil
}

func (m *memoryRepository) MarkRevoked(ctx context.Context, record *RefreshTokenRecord, reason RevokeReason) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byDigest[record.Token]
	if !ok || stored.IsRevoked {
		return false, nil
	}
	m.revoke(stored, reason, m.clock.Now())
	record.IsRevoked = true
	record.RevokedReason = reason
	return true, nil
}

func (m *memoryRepository) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.byFamily[familyID]
	if len(members) == 0 {
		return 0, nil
	}
	now := m.clock.Now()
	m.tomb[familyID] = true

	var revoked int64
	for _, d := range members {
		stored := m.byDigest[d]
		if !stored.IsRevoked {
			m.revoke(stored, ReasonCompromised, now)
			revoked++
		}
		stored.Compromised = true
	}
	return revoked, nil
}

func (m *memoryRepository) revoke(stored *RefreshTokenRecord, reason RevokeReason, now time.Time) {
	stored.IsRevoked = true
	stored.RevokedReason = reason
	stored.UpdatedAt = now
}

func sortByID(records []RefreshTokenRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}
