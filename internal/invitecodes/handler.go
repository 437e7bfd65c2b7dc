package invitecodes

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bizdev-events/backend/internal/metrics"
	"github.com/bizdev-events/backend/internal/models"
	"github.com/bizdev-events/backend/pkg/response"
)

// Store is the persistence the handler needs; *Repository implements it.
type Store interface {
	FindUnused(ctx context.Context, code string) (*models.InviteCode, error)
	Create(ctx context.Context, code string) (*models.InviteCode, error)
	List(ctx context.Context, limit int) ([]models.InviteCode, error)
}

// ValidateRequest is the body for POST /api/reservations/validate-code.
type ValidateRequest struct {
	Code string `json:"code" binding:"required"`
}

// ValidateResponse reports whether the code can be redeemed.
type ValidateResponse struct {
	IsValid bool       `json:"isValid"`
	CodeID  *uuid.UUID `json:"codeId,omitempty"`
}

// GenerateRequest is the body for POST /api/admin/invite-codes.
type GenerateRequest struct {
	Count int `json:"count" binding:"required,min=1,max=100"`
}

// Handler handles invite code HTTP endpoints.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates an invite code handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// ValidateCode handles POST /api/reservations/validate-code. Read-only: the code is consumed
// later, when a reservation is created with it.
func (h *Handler) ValidateCode(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil || Normalize(req.Code) == "" {
		response.BadRequest(c, "El código es requerido")
		return
	}

	ic, err := h.store.FindUnused(c.Request.Context(), req.Code)
	if errors.Is(err, ErrNotFound) {
		metrics.InviteCodeValidations.WithLabelValues("invalid").Inc()
		response.OK(c, ValidateResponse{IsValid: false})
		return
	}
	if err != nil {
		metrics.InviteCodeValidations.WithLabelValues("error").Inc()
		h.logger.Error("validate invite code failed", zap.Error(err))
		response.Internal(c, "Error al validar el código")
		return
	}

	metrics.InviteCodeValidations.WithLabelValues("valid").Inc()
	response.OK(c, ValidateResponse{IsValid: true, CodeID: &ic.ID})
}

// List handles GET /api/admin/invite-codes.
func (h *Handler) List(c *gin.Context) {
	codes, err := h.store.List(c.Request.Context(), 500)
	if err != nil {
		h.logger.Error("list invite codes failed", zap.Error(err))
		response.Internal(c, "failed to list invite codes")
		return
	}
	if codes == nil {
		codes = []models.InviteCode{}
	}
	response.OK(c, gin.H{"codes": codes})
}

// Generate handles POST /api/admin/invite-codes: creates count random codes.
func (h *Handler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	created := make([]models.InviteCode, 0, req.Count)
	for len(created) < req.Count {
		ic, err := h.createRandom(c.Request.Context())
		if err != nil {
			h.logger.Error("generate invite code failed", zap.Error(err), zap.Int("created", len(created)))
			response.Internal(c, "failed to generate invite codes")
			return
		}
		created = append(created, *ic)
	}

	h.logger.Info("invite codes generated", zap.Int("count", len(created)))
	response.Created(c, gin.H{"codes": created})
}

// createRandom retries a few times on the unlikely collision with an existing code.
func (h *Handler) createRandom(ctx context.Context) (*models.InviteCode, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		code, err := Generate()
		if err != nil {
			return nil, err
		}
		ic, err := h.store.Create(ctx, code)
		if err == nil {
			return ic, nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
