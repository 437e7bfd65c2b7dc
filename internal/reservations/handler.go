package reservations

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bizdev-events/backend/internal/models"
	"github.com/bizdev-events/backend/internal/payments"
	"github.com/bizdev-events/backend/pkg/response"
)

// Reserver is what the HTTP layer needs from the reservation service; *Service implements it.
type Reserver interface {
	Create(ctx context.Context, in CreateInput) (*CreateResult, error)
	Verify(ctx context.Context, sessionID string) (*models.Reservation, error)
	List(ctx context.Context, f ListFilter) ([]models.Reservation, error)
	SetStatus(ctx context.Context, paymentID string, status models.ReservationStatus) (*models.Reservation, error)
}

// CreateRequest is the body for POST /api/reservations/create.
type CreateRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	InviteCode   string `json:"inviteCode"`
	HasValidCode bool   `json:"hasValidCode"`
}

// CreateResponse points the client at checkout, or at the success page for a comped reservation.
type CreateResponse struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	URL       string `json:"url,omitempty"`
}

// VerifyResponse is the body of a successful GET /api/reservations/verify.
type VerifyResponse struct {
	Reservation *models.Reservation `json:"reservation"`
}

// StatusRequest is the body for PATCH /api/admin/reservations/:paymentId.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// PublicConfig is what the reservation page needs to render the event and price.
type PublicConfig struct {
	PublishableKey string `json:"publishableKey"`
	EventName      string `json:"eventName"`
	EventDate      string `json:"eventDate"`
	PriceCents     int64  `json:"priceCents"`
	Currency       string `json:"currency"`
}

// Handler handles reservation HTTP endpoints.
type Handler struct {
	svc    Reserver
	public PublicConfig
	logger *zap.Logger
}

// NewHandler creates a reservation handler.
func NewHandler(svc Reserver, public PublicConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, public: public, logger: logger}
}

// Config handles GET /api/reservations/config.
func (h *Handler) Config(c *gin.Context) {
	response.OK(c, h.public)
}

// Create handles POST /api/reservations/create.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Solicitud inválida")
		return
	}

	res, err := h.svc.Create(c.Request.Context(), CreateInput{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		InviteCode:   req.InviteCode,
		HasValidCode: req.HasValidCode,
	})
	if err != nil {
		h.writeCreateError(c, err)
		return
	}
	response.OK(c, CreateResponse{SessionID: res.SessionID, Message: res.Message, URL: res.URL})
}

func (h *Handler) writeCreateError(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		response.BadRequest(c, "Campos requeridos inválidos: "+strings.Join(verr.Fields, ", "))
	case FailedStage(err) == StagePaymentSession:
		response.Internal(c, "Error al crear la sesión de pago: "+providerMessage(err))
	case FailedStage(err) == StageRedeemCode:
		h.logger.Error("redeem invite code failed", zap.Error(err))
		response.Internal(c, "Error al validar el código")
	default:
		h.logger.Error("create reservation failed", zap.Error(err))
		response.Internal(c, "Error al guardar la reserva")
	}
}

// providerMessage returns the provider's own error text carried by err.
func providerMessage(err error) string {
	if inner := errors.Unwrap(err); inner != nil {
		err = inner
	}
	return strings.TrimPrefix(err.Error(), payments.ErrProvider.Error()+": ")
}

// Verify handles GET /api/reservations/verify?session_id=.
func (h *Handler) Verify(c *gin.Context) {
	res, err := h.svc.Verify(c.Request.Context(), c.Query("session_id"))
	switch {
	case err == nil:
		response.OK(c, VerifyResponse{Reservation: res})
	case errors.Is(err, ErrMissingSessionID):
		response.BadRequest(c, "Session ID requerido")
	case errors.Is(err, ErrPaymentNotCompleted):
		response.BadRequest(c, "Pago no completado")
	case errors.Is(err, ErrNotFound), errors.Is(err, payments.ErrSessionNotFound):
		response.NotFound(c, "Reserva no encontrada")
	case errors.Is(err, ErrStatusConflict):
		response.Conflict(c, "La reserva fue cancelada")
	default:
		h.logger.Error("verify payment failed", zap.Error(err))
		response.Internal(c, "Error al verificar el pago")
	}
}

// List handles GET /api/admin/reservations?status=&limit=.
func (h *Handler) List(c *gin.Context) {
	f := ListFilter{Status: models.ReservationStatus(c.Query("status"))}
	if f.Status != "" && !f.Status.Valid() {
		response.BadRequest(c, "invalid status")
		return
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		f.Limit = n
	}

	list, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list reservations failed", zap.Error(err))
		response.Internal(c, "failed to list reservations")
		return
	}
	if list == nil {
		list = []models.Reservation{}
	}
	response.OK(c, gin.H{"reservations": list})
}

// UpdateStatus handles PATCH /api/admin/reservations/:paymentId.
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.SetStatus(c.Request.Context(), c.Param("paymentId"), models.ReservationStatus(req.Status))
	switch {
	case err == nil:
		response.OK(c, gin.H{"reservation": res})
	case errors.Is(err, ErrValidation):
		response.BadRequest(c, "invalid status")
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "reservation not found")
	case errors.Is(err, ErrStatusConflict):
		response.Conflict(c, "only pending reservations can be cancelled")
	default:
		h.logger.Error("update reservation status failed", zap.Error(err))
		response.Internal(c, "failed to update reservation")
	}
}
