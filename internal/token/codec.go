// Package token signs and verifies the bearer tokens handed to clients.
// It holds no state besides its signing material and knows nothing about
// rotation or persistence.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mehmetcc/session-token-service/internal/utils"
)

var (
	// ErrInvalidToken covers every reason a token is rejected. The concrete
	// cause is only ever logged.
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrWeakSecret   = fmt.Errorf("signing secret must be at least %d bytes", utils.MinSecretLength)
	ErrEmptyIssuer  = errors.New("issuer must not be empty")
	ErrInvalidTTL   = errors.New("ttl must be positive")
)

// Kind tells access tokens apart from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

func (k Kind) valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Claims is the payload carried by both token kinds.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Kind  Kind   `json:"type"`
	jwt.RegisteredClaims
}

// Principal is the verified content of a token. It is rebuilt on every
// decode and never mutated.
type Principal struct {
	UserID    uint
	TokenID   string
	Email     string
	Role      string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec issues and verifies HS256 tokens with a single secret and issuer.
type Codec struct {
	secret []byte
	issuer string
	clock  utils.Clock
	logger *zap.Logger
	parser *jwt.Parser
	// lenient skips time-based claims; expiry of refresh tokens is judged
	// by the rotation engine against the stored record.
	lenient *jwt.Parser
}

func NewCodec(secret []byte, issuer string, clock utils.Clock, logger *zap.Logger) (*Codec, error) {
	if len(secret) < utils.MinSecretLength {
		return nil, ErrWeakSecret
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, ErrEmptyIssuer
	}
	if clock == nil {
		clock = utils.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	c := &Codec{secret: key, issuer: issuer, clock: clock, logger: logger}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clock.Now),
	)
	c.lenient = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	return c, nil
}

// Issue signs a token of the given kind for subjectID valid for ttl from now.
func (c *Codec) Issue(kind Kind, subjectID uint, email, role string, ttl time.Duration) (string, error) {
	if !kind.valid() {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}

	now := c.clock.Now()
	claims := Claims{
		Email: email,
		Role:  role,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(uint64(subjectID), 10),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies signature, issuer and expiry and returns the principal.
// A token whose expiry equals the current instant is already expired.
func (c *Codec) Decode(signed string) (*Principal, error) {
	claims, err := c.parse(c.parser, signed)
	if err != nil {
		return nil, err
	}
	return c.principal(claims)
}

// DecodeForRotation verifies signature, issuer and kind of a refresh token
// but accepts it past its expiry. A replayed refresh token must still reach
// the rotation engine after it expired so the family can be revoked.
func (c *Codec) DecodeForRotation(signed string) (*Principal, error) {
	claims, err := c.parse(c.lenient, signed)
	if err != nil {
		return nil, err
	}
	if claims.Issuer != c.issuer {
		c.logger.Debug("token rejected", zap.String("cause", "wrong issuer"))
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt == nil {
		c.logger.Debug("token rejected", zap.String("cause", "missing claim"))
		return nil, ErrInvalidToken
	}
	p, err := c.principal(claims)
	if err != nil {
		return nil, err
	}
	if p.Kind != KindRefresh {
		c.logger.Debug("token rejected", zap.String("cause", "not a refresh token"), zap.Uint("user_id", p.UserID))
		return nil, ErrInvalidToken
	}
	return p, nil
}

func (c *Codec) principal(claims *Claims) (*Principal, error) {
	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		c.logger.Debug("token rejected", zap.String("cause", "non-numeric subject"))
		return nil, ErrInvalidToken
	}
	if !claims.Kind.valid() {
		c.logger.Debug("token rejected", zap.String("cause", "unknown kind"), zap.String("kind", string(claims.Kind)))
		return nil, ErrInvalidToken
	}

	p := &Principal{
		UserID:    uint(userID),
		TokenID:   claims.ID,
		Email:     claims.Email,
		Role:      claims.Role,
		Kind:      claims.Kind,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return p, nil
}

// ExpiryOf returns the expiry claim of a token that passes full validation.
func (c *Codec) ExpiryOf(signed string) (time.Time, error) {
	claims, err := c.parse(c.parser, signed)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time.UTC(), nil
}

func (c *Codec) parse(parser *jwt.Parser, signed string) (*Claims, error) {
	signed = strings.TrimSpace(signed)
	if signed == "" {
		c.logger.Debug("token rejected", zap.String("cause", "empty"))
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	tok, err := parser.ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		c.logger.Debug("token rejected", zap.String("cause", failureCause(err)), zap.Error(err))
		return nil, ErrInvalidToken
	}
	if !tok.Valid {
		c.logger.Debug("token rejected", zap.String("cause", "invalid"))
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// failureCause names the rejection reason for logs only.
func failureCause(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unsupported signing method"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "wrong issuer"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing claim"
	default:
		return "invalid"
	}
}
