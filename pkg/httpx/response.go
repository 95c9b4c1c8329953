package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeInvalidRequestBody     = "invalid_request_body"
	CodeInvalidArgument        = "invalid_argument"
	CodeNotFound               = "not_found"
	CodeInsufficientStock      = "insufficient_stock"
	CodeStockReservationFailed = "stock_reservation_failed"
	CodeInventoryNotFound      = "inventory_not_found"
	CodeInventoryConflict      = "inventory_update_conflict"
	CodeInvalidOrderStatus     = "invalid_order_status"
	CodeOrderCannotBeCancelled = "order_cannot_be_cancelled"
	CodeOrderNotFound          = "order_not_found"
	CodePaymentNotFound        = "payment_not_found"
	CodeInvalidPaymentStatus   = "invalid_payment_status"
	CodePaymentFailed          = "payment_failed"
	CodeRefundFailed           = "refund_failed"
	CodeInternalError          = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{Error: msg, Code: code})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// DecodeJSON reads a single JSON object and rejects unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, CodeNotFound, "not found")
	})
}

// HealthHandler reports basic liveness for the service.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
