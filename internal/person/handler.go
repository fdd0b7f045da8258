package person

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SignUpRequest is the payload to register a new person.
// @Description payload to register a new person
type SignUpRequest struct {
	Name     string `json:"name" binding:"required,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// IDRequest represents a URI ID parameter.
type IDRequest struct {
	ID uint `uri:"id" binding:"required,min=1"`
}

// PersonHandler handles HTTP requests for person resources.
type PersonHandler struct {
	service PersonService
	logger  *zap.Logger
}

// NewPersonHandler registers sign-up on public and lookups on admin.
func NewPersonHandler(public, admin *gin.RouterGroup, service PersonService, logger *zap.Logger) *PersonHandler {
	h := &PersonHandler{service: service, logger: logger}
	public.POST("/auth/signup", h.SignUp)
	admin.GET("/persons/:id", h.ReadPersonByID)
	return h
}

// SignUp godoc
// @Summary      Sign up
// @Description  Register a new person with the member role
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      SignUpRequest  true  "Person payload"
// @Success      201      {object}  PersonResponse
// @Failure      400      {object}  map[string]string
// @Failure      409      {object}  map[string]string
// @Failure      500      {object}  map[string]string
// @Router       /auth/signup [post]
func (h *PersonHandler) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid sign-up payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, email and password are required"})
		return
	}
	p, err := h.service.CreatePerson(c.Request.Context(), req.Name, req.Email, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, p.ToResponse())
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidEmailFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrPasswordTooShort),
		errors.Is(err, ErrPasswordNotAlphanumeric),
		errors.Is(err, ErrPasswordDoesNotHaveSpecialCharacter):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrEmailAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	default:
		h.logger.Error("service.CreatePerson failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create person"})
	}
}

// ReadPersonByID godoc
// @Summary      Get Person by ID
// @Description  Fetch a person by their ID
// @Tags         persons
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      int     true  "Person ID"
// @Success      200      {object}  PersonResponse
// @Failure      400      {object}  map[string]string
// @Failure      401      {object}  map[string]string
// @Failure      403      {object}  map[string]string
// @Failure      404      {object}  map[string]string
// @Failure      500      {object}  map[string]string
// @Router       /persons/{id} [get]
func (h *PersonHandler) ReadPersonByID(c *gin.Context) {
	var uri IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing id"})
		return
	}
	p, err := h.service.ReadPersonByID(c.Request.Context(), uri.ID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, p.ToResponse())
	case errors.Is(err, ErrPersonNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
	default:
		h.logger.Error("service.ReadPersonByID failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch person"})
	}
}
