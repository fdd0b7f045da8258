package refreshtoken

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// RevokeReason records why a record left the active state. It is written
// once, together with the false->true transition of IsRevoked.
type RevokeReason string

const (
	ReasonNone        RevokeReason = ""
	ReasonConsumed    RevokeReason = "consumed"
	ReasonCompromised RevokeReason = "compromised"
	ReasonLoggedOut   RevokeReason = "logged_out"
)

// State is the lifecycle position of a record at a given instant.
type State string

const (
	StateActive      State = "ACTIVE"
	StateConsumed    State = "CONSUMED"
	StateCompromised State = "COMPROMISED"
	StateExpired     State = "EXPIRED"
)

// RefreshTokenRecord is the persisted trace of one issued refresh token.
// Records are never deleted by this package; revoked and expired rows stay
// behind so a replay can still be recognised.
type RefreshTokenRecord struct {
	gorm.Model
	UserID uint `gorm:"index;not null"`
	// Token holds the SHA-256 digest of the issued token, never the token.
	Token         string       `gorm:"uniqueIndex;size:64;not null"`
	FamilyID      string       `gorm:"index;size:26;not null"`
	IsRevoked     bool         `gorm:"not null;default:false"`
	RevokedReason RevokeReason `gorm:"type:text;not null;default:''"`
	// Compromised is set on every member of a family once reuse is detected.
	Compromised bool      `gorm:"not null;default:false"`
	ExpiresAt   time.Time `gorm:"index;not null"`
}

// Expired reports whether the record is past its expiry at now. The
// boundary is inclusive.
func (r *RefreshTokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// State derives the lifecycle state. Expiry only overlays active records.
func (r *RefreshTokenRecord) State(now time.Time) State {
	if r.IsRevoked {
		if r.RevokedReason == ReasonCompromised {
			return StateCompromised
		}
		return StateConsumed
	}
	if r.Expired(now) {
		return StateExpired
	}
	return StateActive
}

// Digest is the lookup key stored for a token string.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewFamilyID returns a lexicographically sortable lineage identifier.
func NewFamilyID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}
