package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/bizdev-events/backend/pkg/response"
)

const maxWebhookBody = 64 * 1024

// SessionEvents receives provider-side session outcomes.
type SessionEvents interface {
	ConfirmPaid(ctx context.Context, sessionID string) error
	CancelExpired(ctx context.Context, sessionID string) error
}

// WebhookHandler handles Stripe webhook deliveries.
type WebhookHandler struct {
	secret string
	events SessionEvents
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler verifying signatures with secret.
func NewWebhookHandler(secret string, events SessionEvents, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{secret: secret, events: events, logger: logger}
}

// Handle handles POST /api/webhooks/stripe. A non-2xx answer makes Stripe redeliver the event.
func (h *WebhookHandler) Handle(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	if len(payload) > maxWebhookBody {
		h.logger.Error("stripe webhook body too large", zap.Int("limit", maxWebhookBody))
		response.PayloadTooLarge(c, "payload too large")
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("stripe webhook rejected", zap.Error(err))
		response.BadRequest(c, "invalid signature")
		return
	}

	ctx := c.Request.Context()
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			response.BadRequest(c, "invalid session payload")
			return
		}
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			h.logger.Info("checkout completed without payment", zap.String("session_id", cs.ID))
			break
		}
		if err := h.events.ConfirmPaid(ctx, cs.ID); err != nil {
			h.logger.Error("confirm from webhook failed", zap.Error(err), zap.String("session_id", cs.ID))
			response.Internal(c, "failed to confirm reservation")
			return
		}
	case "checkout.session.expired":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			response.BadRequest(c, "invalid session payload")
			return
		}
		if err := h.events.CancelExpired(ctx, cs.ID); err != nil {
			h.logger.Error("cancel from webhook failed", zap.Error(err), zap.String("session_id", cs.ID))
			response.Internal(c, "failed to cancel reservation")
			return
		}
	default:
		h.logger.Debug("stripe event ignored", zap.String("type", string(event.Type)))
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
