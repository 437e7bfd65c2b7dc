package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// StripeConfig configures the Stripe Checkout gateway.
type StripeConfig struct {
	SecretKey  string
	PriceID    string
	SuccessURL string
	CancelURL  string
	// Backends overrides the API endpoint; nil uses Stripe's.
	Backends *stripe.Backends
}

// StripeGateway implements Gateway with Stripe Checkout sessions for a single fixed price.
type StripeGateway struct {
	api        *client.API
	priceID    string
	successURL string
	cancelURL  string
	logger     *zap.Logger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway creates a gateway bound to its own API client; no package-level key is set.
func NewStripeGateway(cfg StripeConfig, logger *zap.Logger) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeGateway{
		api:        client.New(cfg.SecretKey, cfg.Backends),
		priceID:    cfg.PriceID,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		logger:     logger,
	}
}

// CreateSession opens a payment-mode checkout session for one unit of the configured price.
func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(g.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:    stripe.String(g.successURL),
		CancelURL:     stripe.String(g.cancelURL),
		CustomerEmail: stripe.String(req.Email),
	}
	params.Context = ctx
	params.AddMetadata("name", req.Name)
	params.AddMetadata("phone", req.Phone)
	params.AddMetadata("event_date", req.EventDate)

	cs, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	g.logger.Info("checkout session created", zap.String("session_id", cs.ID), zap.String("email", req.Email))
	return fromStripe(cs), nil
}

// GetSession fetches the authoritative state of a session.
func (g *StripeGateway) GetSession(ctx context.Context, id string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return fromStripe(cs), nil
}

// ExpireSession closes an open session so it can no longer be paid.
func (g *StripeGateway) ExpireSession(ctx context.Context, id string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := g.api.CheckoutSessions.Expire(id, params); err != nil {
		return wrapStripeError(err)
	}
	g.logger.Info("checkout session expired", zap.String("session_id", id))
	return nil
}

func fromStripe(cs *stripe.CheckoutSession) *Session {
	return &Session{
		ID:            cs.ID,
		URL:           cs.URL,
		PaymentStatus: PaymentStatus(cs.PaymentStatus),
		Status:        SessionStatus(cs.Status),
		AmountTotal:   cs.AmountTotal,
		Currency:      string(cs.Currency),
		Metadata:      cs.Metadata,
	}
}

func wrapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, se.Msg)
		}
		return fmt.Errorf("%w: %s", ErrProvider, se.Msg)
	}
	return fmt.Errorf("%w: %v", ErrProvider, err)
}
