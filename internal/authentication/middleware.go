package authentication

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mehmetcc/session-token-service/internal/metrics"
	"github.com/mehmetcc/session-token-service/internal/person"
	"github.com/mehmetcc/session-token-service/internal/token"
)

// ContextPrincipalKey is the key under which the authenticated Principal is
// stored in the gin context.
const ContextPrincipalKey = "principal"

const rolePrefix = "ROLE_"

// Principal is the authenticated caller of the current request.
type Principal struct {
	UserID    uint
	Email     string
	Role      person.Role
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Gate turns a bearer access token into a Principal. It never rejects a
// request itself; RequireAuthenticated and RequireRole do that downstream.
type Gate struct {
	codec   *token.Codec
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewGate(codec *token.Codec, logger *zap.Logger, m *metrics.Metrics) *Gate {
	return &Gate{codec: codec, logger: logger, metrics: m}
}

func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, outcome := g.authenticate(c.GetHeader("Authorization"))
		g.metrics.Gate(outcome)
		if p != nil {
			c.Set(ContextPrincipalKey, p)
		}
		c.Next()
	}
}

func (g *Gate) authenticate(header string) (*Principal, string) {
	raw, ok := bearerToken(header)
	if !ok {
		return nil, metrics.GateAbsent
	}

	decoded, err := g.codec.Decode(raw)
	if err != nil {
		return nil, metrics.GateInvalid
	}
	if decoded.Kind != token.KindAccess {
		g.logger.Debug("non-access token presented to gate",
			zap.Uint("user_id", decoded.UserID),
			zap.String("kind", string(decoded.Kind)),
		)
		return nil, metrics.GateWrongKind
	}

	role, ok := NormalizeRole(decoded.Role)
	if !ok {
		g.logger.Debug("token carries unknown role",
			zap.Uint("user_id", decoded.UserID),
			zap.String("role", decoded.Role),
		)
		return nil, metrics.GateBadRole
	}

	return &Principal{
		UserID:    decoded.UserID,
		Email:     decoded.Email,
		Role:      role,
		TokenID:   decoded.TokenID,
		IssuedAt:  decoded.IssuedAt,
		ExpiresAt: decoded.ExpiresAt,
	}, metrics.GateAccepted
}

// bearerToken extracts the credential of an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// NormalizeRole maps a role claim such as "ROLE_ADMIN" or " Member " onto
// a known person.Role.
func NormalizeRole(raw string) (person.Role, bool) {
	r := strings.TrimSpace(raw)
	if len(r) >= len(rolePrefix) && strings.EqualFold(r[:len(rolePrefix)], rolePrefix) {
		r = r[len(rolePrefix):]
	}
	role := person.Role(strings.ToLower(r))
	if !role.Valid() {
		return "", false
	}
	return role, true
}

// PrincipalFrom returns the principal the gate attached to c, if any.
func PrincipalFrom(c *gin.Context) (*Principal, bool) {
	raw, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return nil, false
	}
	p, ok := raw.(*Principal)
	return p, ok
}

func RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := PrincipalFrom(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func RequireRole(required person.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if p.Role != required {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
