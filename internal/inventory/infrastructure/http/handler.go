package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmehra2102/marketplace-core/internal/inventory/application"
	"github.com/dmehra2102/marketplace-core/internal/inventory/domain"
	"github.com/dmehra2102/marketplace-core/pkg/httpx"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
)

// Ledger is what the internal API needs from the stock ledger.
type Ledger interface {
	Stock(ctx context.Context, productOptionID int64, quantity, safetyStock int) (domain.Inventory, error)
	Get(ctx context.Context, productOptionID int64) (domain.Inventory, error)
	History(ctx context.Context, productOptionID int64, limit int) ([]domain.HistoryEntry, error)
	Increase(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error)
	Decrease(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error)
	Adjust(ctx context.Context, productOptionID int64, ref domain.Ref, fn func(*domain.Inventory) error) (domain.Inventory, error)
	ReserveForOrder(ctx context.Context, orderID string, productOptionID int64, quantity int) (domain.Reservation, domain.Inventory, error)
	ReleaseForOrder(ctx context.Context, orderID string, productOptionID int64, quantity int, reason string) (int, error)
	ConfirmReservationByID(ctx context.Context, reservationID string) (domain.Reservation, error)
	ReopenReservation(ctx context.Context, reservationID, reason string) (domain.Reservation, error)
}

type Handler struct {
	log    *slog.Logger
	ledger Ledger
}

func NewHandler(log *slog.Logger, ledger Ledger) *Handler {
	return &Handler{log: log, ledger: ledger}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/internal/inventory", func(r chi.Router) {
		r.Post("/reserve", h.reserve)
		r.Post("/reservations/{reservationId}/confirm", h.confirm)
		r.Post("/reservations/{reservationId}/reopen", h.reopen)
		r.Route("/option/{productOptionId}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Put("/", h.stock)
			r.Patch("/", h.adjust)
			r.Get("/history", h.history)
			r.Post("/release", h.release)
			r.Post("/increase", h.increase)
			r.Post("/decrease", h.decrease)
		})
	})
	return r
}

type reserveRequest struct {
	ProductOptionID int64  `json:"productOptionId"`
	Quantity        int    `json:"quantity"`
	OrderID         string `json:"orderId"`
}

type reserveResponse struct {
	ReservationID     string `json:"reservationId"`
	AvailableQuantity int    `json:"availableQuantity"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequestBody, err.Error())
		return
	}
	if req.ProductOptionID <= 0 || req.Quantity <= 0 || req.OrderID == "" {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidArgument, "productOptionId, quantity and orderId are required")
		return
	}

	res, inv, err := h.ledger.ReserveForOrder(r.Context(), req.OrderID, req.ProductOptionID, req.Quantity)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reserveResponse{ReservationID: res.ID, AvailableQuantity: inv.Available()})
}

type releaseResponse struct {
	ProductOptionID  int64 `json:"productOptionId"`
	ReleasedQuantity int   `json:"releasedQuantity"`
}

// release answers 200 for every business outcome, including unknown options
// and repeated calls.
func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	id, ok := h.optionID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	qty, err := strconv.Atoi(q.Get("quantity"))
	if err != nil || qty < 0 {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidArgument, "quantity must be a non-negative integer")
		return
	}
	orderID := q.Get("orderId")
	if orderID == "" {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidArgument, "orderId is required")
		return
	}
	reason := q.Get("reason")
	if reason == "" {
		reason = "released by order service"
	}

	released, err := h.ledger.ReleaseForOrder(r.Context(), orderID, id, qty, reason)
	if err != nil {
		logging.WithTrace(r.Context(), h.log).Error("release failed", "order_id", orderID, "product_option_id", id, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternalError, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, releaseResponse{ProductOptionID: id, ReleasedQuantity: released})
}

type reservationResponse struct {
	ReservationID   string `json:"reservationId"`
	OrderID         string `json:"orderId"`
	ProductOptionID int64  `json:"productOptionId"`
	Quantity        int    `json:"quantity"`
	Status          string `json:"status"`
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.ConfirmReservationByID(r.Context(), chi.URLParam(r, "reservationId"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.ReopenReservation(r.Context(), chi.URLParam(r, "reservationId"), r.URL.Query().Get("reason"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toReservationResponse(res))
}

func toReservationResponse(res domain.Reservation) reservationResponse {
	return reservationResponse{
		ReservationID:   res.ID,
		OrderID:         res.OrderID,
		ProductOptionID: res.ProductOptionID,
		Quantity:        res.Quantity,
		Status:          string(res.Status),
	}
}

type inventoryResponse struct {
	ProductOptionID   int64 `json:"productOptionId"`
	Quantity          int   `json:"quantity"`
	ReservedQuantity  int   `json:"reservedQuantity"`
	AvailableQuantity int   `json:"availableQuantity"`
	SafetyStock       int   `json:"safetyStock"`
	Version           int64 `json:"version"`
}

func toInventoryResponse(inv domain.Inventory) inventoryResponse {
	return inventoryResponse{
		ProductOptionID:   inv.ProductOptionID,
		Quantity:          inv.Quantity,
		ReservedQuantity:  inv.ReservedQuantity,
		AvailableQuantity: inv.Available(),
		SafetyStock:       inv.SafetyStock,
		Version:           inv.Version,
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.optionID(w, r)
	if !ok {
		return
	}
	inv, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toInventoryResponse(inv))
}

type stockRequest struct {
	Quantity    int `json:"quantity"`
	SafetyStock int `json:"safetyStock"`
}

func (h *Handler) stock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.optionID(w, r)
	if !ok {
		return
	}
	var req stockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequestBody, err.Error())
		return
	}
	inv, err := h.ledger.Stock(r.Context(), id, req.Quantity, req.SafetyStock)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toInventoryResponse(inv))
}

type changeRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

func (h *Handler) increase(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.ledger.Increase)
}

func (h *Handler) decrease(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.ledger.Decrease)
}

func (h *Handler) change(w http.ResponseWriter, r *http.Request, op func(context.Context, int64, int, domain.Ref) (domain.Inventory, error)) {
	id, ok := h.optionID(w, r)
	if !ok {
		return
	}
	var req changeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequestBody, err.Error())
		return
	}
	inv, err := op(r.Context(), id, req.Quantity, domain.Ref{Type: domain.RefAdmin, Reason: req.Reason})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toInventoryResponse(inv))
}

type adjustRequest struct {
	Quantity    *int   `json:"quantity"`
	SafetyStock *int   `json:"safetyStock"`
	Reason      string `json:"reason"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	id, ok := h.optionID(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequestBody, err.Error())
		return
	}
	inv, err := h.ledger.Adjust(r.Context(), id, domain.Ref{Type: domain.RefAdmin, Reason: req.Reason}, func(inv *domain.Inventory) error {
		if req.Quantity != nil {
			inv.Quantity = *req.Quantity
		}
		if req.SafetyStock != nil {
			inv.SafetyStock = *req.SafetyStock
		}
		return nil
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toInventoryResponse(inv))
}

type historyResponse struct {
	ChangeType     string    `json:"changeType"`
	ChangeQuantity int       `json:"changeQuantity"`
	BeforeQuantity int       `json:"beforeQuantity"`
	AfterQuantity  int       `json:"afterQuantity"`
	Reason         string    `json:"reason"`
	ReferenceID    string    `json:"referenceId"`
	ReferenceType  string    `json:"referenceType"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.optionID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.ledger.History(r.Context(), id, limit)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			ChangeType:     string(e.ChangeType),
			ChangeQuantity: e.ChangeQuantity,
			BeforeQuantity: e.BeforeQuantity,
			AfterQuantity:  e.AfterQuantity,
			Reason:         e.Reason,
			ReferenceID:    e.ReferenceID,
			ReferenceType:  string(e.ReferenceType),
			CreatedAt:      e.CreatedAt.UTC(),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) optionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productOptionId"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidArgument, "invalid productOptionId")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInsufficientStock, err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity):
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidArgument, err.Error())
	case errors.Is(err, domain.ErrInventoryNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.CodeInventoryNotFound, err.Error())
	case errors.Is(err, domain.ErrReservationNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, err.Error())
	case errors.Is(err, domain.ErrInventoryUpdateConflict), errors.Is(err, domain.ErrInventoryExists),
		errors.Is(err, application.ErrReservationReleased):
		httpx.WriteError(w, http.StatusConflict, httpx.CodeInventoryConflict, err.Error())
	default:
		logging.WithTrace(r.Context(), h.log).Error("ledger request failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternalError, "internal error")
	}
}
