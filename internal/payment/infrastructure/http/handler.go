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

	"github.com/dmehra2102/marketplace-core/internal/payment/domain"
	"github.com/dmehra2102/marketplace-core/pkg/httpx"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
)

type PaymentService interface {
	Initiate(ctx context.Context, orderID string, method domain.Method, amount int64) (domain.Payment, error)
	Get(ctx context.Context, id string) (domain.Payment, error)
	Confirm(ctx context.Context, id, paymentKey string, amount int64) (domain.Payment, error)
	Cancel(ctx context.Context, id, reason string) (domain.Payment, error)
	Fail(ctx context.Context, id, reason string) (domain.Payment, error)
	Refund(ctx context.Context, id string, amount int64) (domain.Payment, error)
}

type Handler struct {
	log     *slog.Logger
	service PaymentService
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service PaymentService) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("payment-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/payments", h.initiate)
	r.Post("/payments/confirm", h.confirm)
	r.Route("/payments/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/cancel", h.cancel)
		r.Post("/fail", h.fail)
		r.Post("/refund", h.refund)
	})
	return r
}

type initiateReq struct {
	OrderID string `json:"orderId"`
	Method  string `json:"method"`
	Amount  int64  `json:"amount"`
}

type confirmReq struct {
	PaymentID  string `json:"paymentId"`
	PaymentKey string `json:"paymentKey"`
	Amount     int64  `json:"amount"`
}

type reasonReq struct {
	Reason string `json:"reason"`
}

type refundReq struct {
	Amount int64 `json:"amount"`
}

type paymentResp struct {
	ID               string     `json:"id"`
	OrderID          string     `json:"orderId"`
	PaymentKey       string     `json:"paymentKey,omitempty"`
	Method           string     `json:"method"`
	Status           string     `json:"status"`
	Amount           int64      `json:"amount"`
	PaidAmount       int64      `json:"paidAmount"`
	RefundedAmount   int64      `json:"refundedAmount"`
	RefundableAmount int64      `json:"refundableAmount"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
	FailureReason    string     `json:"failureReason,omitempty"`
	CancelReason     string     `json:"cancelReason,omitempty"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`
	CancelledAt      *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func toPaymentResp(p domain.Payment) paymentResp {
	return paymentResp{
		ID:               p.ID,
		OrderID:          p.OrderID,
		PaymentKey:       p.PaymentKey,
		Method:           string(p.Method),
		Status:           string(p.Status),
		Amount:           p.Amount,
		PaidAmount:       p.PaidAmount,
		RefundedAmount:   p.RefundedAmount,
		RefundableAmount: p.RefundableAmount(),
		DueDate:          p.DueDate,
		FailureReason:    p.FailureReason,
		CancelReason:     p.CancelReason,
		PaidAt:           p.PaidAt,
		CancelledAt:      p.CancelledAt,
		CreatedAt:        p.CreatedAt,
	}
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "InitiatePayment")
	defer span.End()

	var req initiateReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequestBody, err.Error())
		return
	}
	if req.Method == "" {
		req.Method = string(domain.MethodCard)
	}

	p, err := h.service.Initiate(ctx, req.OrderID, domain.Method(req.Method), req.Amount)
	if err != nil {
		h.writeError(w, r.WithContext(ctx), err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toPaymentResp(p))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toPaymentResp(p))
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmPayment")
	defer span.End()

	var req confirmReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequestBody, err.Error())
		return
	}
	if req.PaymentID == "" {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidArgument, "paymentId is required")
		return
	}

	p, err := h.service.Confirm(ctx, req.PaymentID, req.PaymentKey, req.Amount)
	if err != nil {
		h.writeError(w, r.WithContext(ctx), err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toPaymentResp(p))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, "cancelled by member", PaymentService.Cancel)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, "payment failed", PaymentService.Fail)
}

func (h *Handler) withReason(w http.ResponseWriter, r *http.Request, fallback string, fn func(PaymentService, context.Context, string, string) (domain.Payment, error)) {
	var req reasonReq
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequestBody, err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = fallback
	}

	p, err := fn(h.service, r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toPaymentResp(p))
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequestBody, err.Error())
		return
	}

	p, err := h.service.Refund(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toPaymentResp(p))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidPayment):
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidArgument, err.Error())
	case errors.Is(err, domain.ErrPaymentNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.CodePaymentNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidPaymentStatus):
		httpx.WriteError(w, http.StatusConflict, httpx.CodeInvalidPaymentStatus, err.Error())
	case errors.Is(err, domain.ErrPaymentFailed):
		httpx.WriteError(w, http.StatusUnprocessableEntity, httpx.CodePaymentFailed, err.Error())
	case errors.Is(err, domain.ErrRefundFailed):
		httpx.WriteError(w, http.StatusUnprocessableEntity, httpx.CodeRefundFailed, err.Error())
	default:
		logging.WithTrace(r.Context(), h.log).Error("payment request failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternalError, "internal error")
	}
}
