// Package exports writes reservation lists as CSV to object storage for the organizers.
package exports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bizdev-events/backend/internal/models"
	"github.com/bizdev-events/backend/internal/reservations"
	"github.com/bizdev-events/backend/pkg/response"
	"github.com/bizdev-events/backend/pkg/storage"
)

const maxRows = 10000

// Lister returns reservations; *reservations.Service implements it.
type Lister interface {
	List(ctx context.Context, f reservations.ListFilter) ([]models.Reservation, error)
}

// ObjectStore uploads an export and hands out a link to it; *storage.S3 implements it.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	PresignDownload(ctx context.Context, key string) (string, error)
}

// Result describes an uploaded export.
type Result struct {
	Key   string `json:"key"`
	URL   string `json:"url"`
	Count int    `json:"count"`
}

var header = []string{"name", "email", "phone", "status", "payment_id", "amount", "invite_code", "event_date", "created_at"}

// Handler serves POST /api/admin/reservations/export.
type Handler struct {
	list      Lister
	store     ObjectStore
	eventDate string
	now       func() time.Time
	logger    *zap.Logger
}

// NewHandler creates an export handler.
func NewHandler(list Lister, store ObjectStore, eventDate string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{list: list, store: store, eventDate: eventDate, now: time.Now, logger: logger}
}

// Export uploads the reservations matching ?status= and returns a download link.
func (h *Handler) Export(c *gin.Context) {
	status := models.ReservationStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		response.BadRequest(c, "invalid status")
		return
	}
	res, err := h.export(c.Request.Context(), status)
	if err != nil {
		h.logger.Error("export reservations failed", zap.Error(err))
		response.Internal(c, "failed to export reservations")
		return
	}
	h.logger.Info("reservations exported", zap.String("key", res.Key), zap.Int("count", res.Count))
	response.Created(c, res)
}

func (h *Handler) export(ctx context.Context, status models.ReservationStatus) (*Result, error) {
	list, err := h.list.List(ctx, reservations.ListFilter{Status: status, Limit: maxRows})
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	body, err := encode(list)
	if err != nil {
		return nil, err
	}
	key := storage.ExportKey(h.eventDate, h.now())
	if err := h.store.Upload(ctx, key, "text/csv", bytes.NewReader(body)); err != nil {
		return nil, err
	}
	url, err := h.store.PresignDownload(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Result{Key: key, URL: url, Count: len(list)}, nil
}

func encode(list []models.Reservation) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range list {
		code := ""
		if r.InviteCode != nil {
			code = *r.InviteCode
		}
		row := []string{
			r.Name,
			r.Email,
			r.Phone,
			string(r.Status),
			r.PaymentID,
			strconv.FormatInt(r.Amount, 10),
			code,
			r.EventDate.Format(time.DateOnly),
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
