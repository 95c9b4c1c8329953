package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	orchestrator "github.com/dmehra2102/marketplace-core/internal/orchestrator/domain"
	"github.com/dmehra2102/marketplace-core/internal/order/application"
	"github.com/dmehra2102/marketplace-core/internal/order/domain"
	"github.com/dmehra2102/marketplace-core/pkg/httpx"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
)

type OrderService interface {
	Create(ctx context.Context, in application.CreateInput) (domain.Order, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	Cancel(ctx context.Context, id, reason string) (domain.Order, error)
	StartPreparing(ctx context.Context, id string) (domain.Order, error)
	Ship(ctx context.Context, id string) (domain.Order, error)
	Deliver(ctx context.Context, id string) (domain.Order, error)
	Complete(ctx context.Context, id string) (domain.Order, error)
	RequestRefund(ctx context.Context, id string) (domain.Order, error)
}

type Handler struct {
	log     *slog.Logger
	service OrderService
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service OrderService) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Post("/cancel", h.cancel)
		r.Post("/prepare", h.step(OrderService.StartPreparing))
		r.Post("/ship", h.step(OrderService.Ship))
		r.Post("/deliver", h.step(OrderService.Deliver))
		r.Post("/complete", h.step(OrderService.Complete))
		r.Post("/refund-request", h.step(OrderService.RequestRefund))
	})
	return r
}

type createOrderItem struct {
	ProductOptionID int64 `json:"productOptionId"`
	Quantity        int   `json:"quantity"`
	UnitPrice       int64 `json:"unitPrice"`
	DiscountRate    int   `json:"discountRate"`
}

type createOrderReq struct {
	MemberID   string            `json:"memberId"`
	AddressID  string            `json:"addressId"`
	CouponID   *string           `json:"couponId"`
	PointToUse int64             `json:"pointToUse"`
	Items      []createOrderItem `json:"items"`
}

type orderItemResp struct {
	ProductOptionID int64  `json:"productOptionId"`
	Quantity        int    `json:"quantity"`
	UnitPrice       int64  `json:"unitPrice"`
	DiscountRate    int    `json:"discountRate"`
	FinalPrice      int64  `json:"finalPrice"`
	Status          string `json:"status"`
	ReservationID   string `json:"reservationId,omitempty"`
}

type orderResp struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"orderNumber"`
	MemberID       string          `json:"memberId"`
	AddressID      string          `json:"addressId"`
	CouponID       *string         `json:"couponId,omitempty"`
	Status         string          `json:"status"`
	TotalAmount    int64           `json:"totalAmount"`
	DiscountAmount int64           `json:"discountAmount"`
	DeliveryFee    int64           `json:"deliveryFee"`
	FinalAmount    int64           `json:"finalAmount"`
	PointUsed      int64           `json:"pointUsed"`
	PointEarned    int64           `json:"pointEarned"`
	OrderedAt      time.Time       `json:"orderedAt"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
	ShippedAt      *time.Time      `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time      `json:"deliveredAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	CancelledAt    *time.Time      `json:"cancelledAt,omitempty"`
	CancelReason   string          `json:"cancelReason,omitempty"`
	Items          []orderItemResp `json:"items"`
}

func toOrderResp(o domain.Order) orderResp {
	items := make([]orderItemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResp{
			ProductOptionID: it.ProductOptionID,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			DiscountRate:    it.DiscountRate,
			FinalPrice:      it.FinalPrice,
			Status:          string(it.Status),
			ReservationID:   it.ReservationID,
		})
	}
	return orderResp{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		MemberID:       o.MemberID,
		AddressID:      o.AddressID,
		CouponID:       o.CouponID,
		Status:         string(o.Status),
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
		DeliveryFee:    o.DeliveryFee,
		FinalAmount:    o.FinalAmount,
		PointUsed:      o.PointUsed,
		PointEarned:    o.PointEarned,
		OrderedAt:      o.OrderedAt,
		PaidAt:         o.PaidAt,
		ShippedAt:      o.ShippedAt,
		DeliveredAt:    o.DeliveredAt,
		CompletedAt:    o.CompletedAt,
		CancelledAt:    o.CancelledAt,
		CancelReason:   o.CancelReason,
		Items:          items,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequestBody, err.Error())
		return
	}

	in := application.CreateInput{
		MemberID:   req.MemberID,
		AddressID:  req.AddressID,
		CouponID:   req.CouponID,
		PointToUse: req.PointToUse,
		Items:      make([]domain.DraftItem, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, domain.DraftItem{
			ProductOptionID: it.ProductOptionID,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			DiscountRate:    it.DiscountRate,
		})
	}

	o, err := h.service.Create(ctx, in)
	if err != nil {
		h.writeError(w, r.WithContext(ctx), err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toOrderResp(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResp(o))
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequestBody, err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by member"
	}

	o, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *Handler) step(fn func(OrderService, context.Context, string) (domain.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := fn(h.service, r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, toOrderResp(o))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidArgument, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.CodeOrderNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidOrderStatus):
		httpx.WriteError(w, http.StatusConflict, httpx.CodeInvalidOrderStatus, err.Error())
	case errors.Is(err, domain.ErrOrderCannotBeCancelled):
		httpx.WriteError(w, http.StatusConflict, httpx.CodeOrderCannotBeCancelled, err.Error())
	case errors.Is(err, orchestrator.ErrInsufficientStock):
		httpx.WriteError(w, http.StatusConflict, httpx.CodeInsufficientStock, err.Error())
	case errors.Is(err, orchestrator.ErrInventoryNotFound):
		httpx.WriteError(w, http.StatusUnprocessableEntity, httpx.CodeInventoryNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrStockReservationFailed):
		httpx.WriteError(w, http.StatusServiceUnavailable, httpx.CodeStockReservationFailed, "stock reservation failed, try again later")
	default:
		logging.WithTrace(r.Context(), h.log).Error("order request failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternalError, "internal error")
	}
}
