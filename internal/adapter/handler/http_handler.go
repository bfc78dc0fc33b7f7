package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/rl1809/ticket-rush/internal/core/domain"
	"github.com/rl1809/ticket-rush/internal/core/service"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerUserID         = "X-User-Id"
	headerReplayed       = "Idempotent-Replayed"
)

// OrderService is the intake and read side the transports depend on.
type OrderService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (service.SubmitResponse, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListInventory(ctx context.Context) ([]domain.InventoryItem, error)
}

// Pinger is a dependency the health endpoints probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	orderService OrderService
	checks       map[string]Pinger
	validate     *validator.Validate
	log          zerolog.Logger
}

type CreateOrderHTTPRequest struct {
	TicketID string `json:"ticketId" validate:"required,max=64"`
	Quantity *int   `json:"quantity"`
}

type OrderResponse struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	TicketID      string     `json:"ticketId"`
	Quantity      int        `json:"quantity"`
	TotalPrice    int64      `json:"totalPrice"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failureReason,omitempty"`
	ProcessedAt   *time.Time `json:"processedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type TicketResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Price             int64  `json:"price"`
	TotalQuantity     int    `json:"totalQuantity"`
	AvailableQuantity int    `json:"availableQuantity"`
}

type ErrorHTTPResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func NewHTTPHandler(orderService OrderService, checks map[string]Pinger, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		orderService: orderService,
		checks:       checks,
		validate:     validator.New(),
		log:          log.With().Str("component", "http").Logger(),
	}
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "validation failed", Fields: formatValidationError(err)})
		return
	}

	fingerprint := r.Header.Get(headerIdempotencyKey)
	if fingerprint == "" {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "Idempotency-Key header is required"})
		return
	}

	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	resp, err := h.orderService.Submit(r.Context(), service.SubmitRequest{
		RequesterID: r.Header.Get(headerUserID),
		ItemID:      req.TicketID,
		Quantity:    quantity,
		Fingerprint: fingerprint,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if resp.Replayed {
		w.Header().Set(headerReplayed, "true")
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	items, err := h.orderService.ListInventory(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTicketResponses(items))
}

// HealthCheck reports every dependency and answers 503 if any is down.
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, healthy := h.probe(r.Context())
	writeJSON(w, healthStatusCode(healthy), status)
}

func (h *HTTPHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "up",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HTTPHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status, healthy := h.probe(r.Context())
	status["ready"] = healthy
	writeJSON(w, healthStatusCode(healthy), status)
}

func (h *HTTPHandler) probe(ctx context.Context) (map[string]interface{}, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := map[string]interface{}{"timestamp": time.Now().UTC().Format(time.RFC3339)}
	healthy := true
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.log.Error().Err(err).Str("dependency", name).Msg("health check failed")
			status[name] = "down"
			healthy = false
			continue
		}
		status[name] = "up"
	}

	status["status"] = "up"
	if !healthy {
		status["status"] = "down"
	}
	return status, healthy
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidFingerprint):
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: err.Error()})
	case errors.Is(err, service.ErrRequestInFlight):
		writeJSON(w, http.StatusConflict, ErrorHTTPResponse{Error: err.Error()})
	case errors.Is(err, service.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, ErrorHTTPResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorHTTPResponse{Error: "internal error"})
	}
}

func toOrderResponse(order *domain.Order) OrderResponse {
	return OrderResponse{
		ID:            order.ID,
		UserID:        order.RequesterID,
		TicketID:      order.ItemID,
		Quantity:      order.Quantity,
		TotalPrice:    order.TotalPrice,
		Status:        string(order.Status),
		FailureReason: order.FailureReason,
		ProcessedAt:   order.ProcessedAt,
		CreatedAt:     order.CreatedAt,
	}
}

func toTicketResponses(items []domain.InventoryItem) []TicketResponse {
	tickets := make([]TicketResponse, 0, len(items))
	for _, item := range items {
		tickets = append(tickets, TicketResponse{
			ID:                item.ID,
			Name:              item.Name,
			Price:             item.Price,
			TotalQuantity:     item.TotalQuantity,
			AvailableQuantity: item.AvailableQuantity,
		})
	}
	return tickets
}

func formatValidationError(err error) map[string]string {
	fields := make(map[string]string)

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fields
	}
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			fields[field] = field + " is required"
		case "max":
			fields[field] = field + " must be at most " + fe.Param() + " characters"
		default:
			fields[field] = field + " is invalid"
		}
	}
	return fields
}

func healthStatusCode(healthy bool) int {
	if healthy {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
