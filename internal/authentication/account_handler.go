package authentication

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mehmetcc/session-token-service/internal/person"
	"github.com/mehmetcc/session-token-service/internal/refreshtoken"
)

// FamilyAdmin is the administrative view over token families.
type FamilyAdmin interface {
	Lineage(ctx context.Context, familyID string) ([]refreshtoken.RefreshTokenRecord, error)
	RevokeFamily(ctx context.Context, familyID string) error
	Now() time.Time
}

// FamilyRecordResponse describes one refresh token of a family. The token
// itself is never returned.
type FamilyRecordResponse struct {
	ID            uint      `json:"id"`
	UserID        uint      `json:"user_id"`
	State         string    `json:"state"`
	RevokedReason string    `json:"revoked_reason,omitempty"`
	Compromised   bool      `json:"compromised"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type FamilyResponse struct {
	FamilyID string                 `json:"family_id"`
	Records  []FamilyRecordResponse `json:"records"`
}

type familyURI struct {
	ID string `uri:"id" binding:"required,len=26"`
}

// AccountHandler serves the caller's identity and family administration.
type AccountHandler struct {
	identities IdentityLookup
	families   FamilyAdmin
	logger     *zap.Logger
}

// NewAccountHandler expects authenticated to sit behind RequireAuthenticated
// and admin behind RequireRole(person.Admin).
func NewAccountHandler(authenticated, admin *gin.RouterGroup, identities IdentityLookup, families FamilyAdmin, logger *zap.Logger) *AccountHandler {
	h := &AccountHandler{identities: identities, families: families, logger: logger}
	authenticated.GET("/persons/me", h.ReadCurrentPerson)
	admin.GET("/admin/families/:id", h.ReadFamily)
	admin.DELETE("/admin/families/:id", h.RevokeFamily)
	return h
}

// ReadCurrentPerson godoc
// @Summary      Get current user
// @Description  Fetch the identity behind the presented access token
// @Tags         persons
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} person.PersonResponse
// @Failure      401 {object} map[string]string
// @Failure      404 {object} map[string]string
// @Router       /persons/me [get]
func (h *AccountHandler) ReadCurrentPerson(c *gin.Context) {
	principal, ok := PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	p, err := h.identities.ReadPersonByID(c.Request.Context(), principal.UserID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, p.ToResponse())
	case errors.Is(err, person.ErrPersonNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		h.logger.Error("ReadPersonByID failed", zap.Uint("user_id", principal.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch person"})
	}
}

// ReadFamily godoc
// @Summary      Inspect token family
// @Description  List every refresh token issued in a family with its state
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Family ID"
// @Success      200  {object}  FamilyResponse
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /admin/families/{id} [get]
func (h *AccountHandler) ReadFamily(c *gin.Context) {
	var uri familyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid family id"})
		return
	}
	records, err := h.families.Lineage(c.Request.Context(), uri.ID)
	if err != nil {
		h.logger.Error("Lineage failed", zap.String("family_id", uri.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read family"})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "family not found"})
		return
	}

	now := h.families.Now()
	resp := FamilyResponse{FamilyID: uri.ID, Records: make([]FamilyRecordResponse, 0, len(records))}
	for i := range records {
		r := &records[i]
		resp.Records = append(resp.Records, FamilyRecordResponse{
			ID:            r.ID,
			UserID:        r.UserID,
			State:         string(r.State(now)),
			RevokedReason: string(r.RevokedReason),
			Compromised:   r.Compromised,
			IssuedAt:      r.CreatedAt,
			ExpiresAt:     r.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// RevokeFamily godoc
// @Summary      Revoke token family
// @Description  Revoke every refresh token of a family
// @Tags         admin
// @Security     BearerAuth
// @Param        id   path  string  true  "Family ID"
// @Success      204
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /admin/families/{id} [delete]
func (h *AccountHandler) RevokeFamily(c *gin.Context) {
	var uri familyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid family id"})
		return
	}
	records, err := h.families.Lineage(c.Request.Context(), uri.ID)
	if err != nil {
		h.logger.Error("Lineage failed", zap.String("family_id", uri.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read family"})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "family not found"})
		return
	}
	if err := h.families.RevokeFamily(c.Request.Context(), uri.ID); err != nil {
		h.logger.Error("RevokeFamily failed", zap.String("family_id", uri.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not revoke family"})
		return
	}
	c.Status(http.StatusNoContent)
}
