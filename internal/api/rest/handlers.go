package rest

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/davidleathers/fraud-signal-service/internal/domain/errors"
	"github.com/davidleathers/fraud-signal-service/internal/domain/transaction"
	"github.com/davidleathers/fraud-signal-service/internal/service/fraud"
)

// SignalPublisher receives every scored transaction after the response is built
type SignalPublisher interface {
	PublishScored(ctx context.Context, req *transaction.Request, resp *fraud.ScoreResponse)
}

// BlacklistAdmin manages the shared IP blacklist
type BlacklistAdmin interface {
	Add(ctx context.Context, ips ...string) error
	Members() []string
}

// HistoryResponse is the body of the customer history endpoint
type HistoryResponse struct {
	CustomerName string               `json:"customerName"`
	Transactions []transaction.Record `json:"transactions"`
}

// AddBlacklistRequest adds addresses to the shared blacklist
type AddBlacklistRequest struct {
	IPs []string `json:"ips" validate:"required,min=1,dive,ip"`
}

// BlacklistResponse lists the effective blacklist
type BlacklistResponse struct {
	IPs []string `json:"ips"`
}

// Handler serves the fraud scoring API
type Handler struct {
	base      *BaseHandler
	service   fraud.Service
	publisher SignalPublisher
	blacklist BlacklistAdmin
	tracer    trace.Tracer
}

// NewHandler creates the API handler. publisher and blacklist may be nil.
func NewHandler(base *BaseHandler, service fraud.Service, publisher SignalPublisher, blacklist BlacklistAdmin) *Handler {
	return &Handler{
		base:      base,
		service:   service,
		publisher: publisher,
		blacklist: blacklist,
		tracer:    otel.Tracer("api.rest"),
	}
}

// ScoreTransaction handles POST /api/score-transaction
func (h *Handler) ScoreTransaction(w http.ResponseWriter, r *http.Request) {
	var req transaction.Request
	if err := h.base.DecodeAndValidate(w, r, &req); err != nil {
		h.base.writeError(w, r, err)
		return
	}

	resp := h.service.ScoreTransaction(r.Context(), &req)

	if h.publisher != nil {
		h.publisher.PublishScored(r.Context(), &req, resp)
	}

	writeJSON(w, http.StatusOK, resp)
}

// CustomerHistory handles GET /api/customers/{customerName}/history
func (h *Handler) CustomerHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("customerName")
	if strings.TrimSpace(name) == "" {
		h.base.writeError(w, r, &ValidationError{
			Message: "Validation failed",
			Fields:  []string{"customerName: is required"},
		})
		return
	}

	records := h.service.CustomerHistory(r.Context(), name)
	if records == nil {
		records = []transaction.Record{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{CustomerName: name, Transactions: records})
}

// ListBlacklist handles GET /api/blacklist
func (h *Handler) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BlacklistResponse{IPs: h.blacklist.Members()})
}

// AddToBlacklist handles POST /api/blacklist
func (h *Handler) AddToBlacklist(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "blacklist.Add")
	defer span.End()

	var req AddBlacklistRequest
	if err := h.base.DecodeAndValidate(w, r, &req); err != nil {
		h.base.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int("blacklist.added", len(req.IPs)))

	if err := h.blacklist.Add(ctx, req.IPs...); err != nil {
		span.RecordError(err)
		h.base.writeError(w, r, apperrors.NewExternalError("redis", "blacklist update failed").WithCause(err))
		return
	}

	writeJSON(w, http.StatusOK, BlacklistResponse{IPs: h.blacklist.Members()})
}

// NotFound renders the error body for unknown routes
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.base.writeError(w, r, apperrors.NewNotFoundError("route "+r.URL.Path))
}
