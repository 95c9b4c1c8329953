package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	orchestrator "github.com/dmehra2102/marketplace-core/internal/orchestrator/domain"
	"github.com/dmehra2102/marketplace-core/internal/order/application"
	"github.com/dmehra2102/marketplace-core/internal/order/domain"
)

type fakeService struct {
	createErr error
	created   application.CreateInput
	orders    map[string]domain.Order
	cancelled string
}

func (f *fakeService) Create(_ context.Context, in application.CreateInput) (domain.Order, error) {
	f.created = in
	if f.createErr != nil {
		return domain.Order{}, f.createErr
	}
	o, err := domain.NewOrder(domain.Draft{ID: "o-1", OrderNumber: "ORD-1", MemberID: in.MemberID, AddressID: in.AddressID,
		Items: in.Items, PointToUse: in.PointToUse}, domain.Pricing{DeliveryFee: 3000}, time.Now())
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (f *fakeService) Get(_ context.Context, id string) (domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeService) Cancel(ctx context.Context, id, reason string) (domain.Order, error) {
	o, err := f.Get(ctx, id)
	if err != nil {
		return o, err
	}
	if err := o.Cancel(reason, time.Now()); err != nil {
		return o, err
	}
	f.cancelled = reason
	return o, nil
}

func (f *fakeService) advance(ctx context.Context, id string, step func(*domain.Order, time.Time) error) (domain.Order, error) {
	o, err := f.Get(ctx, id)
	if err != nil {
		return o, err
	}
	return o, step(&o, time.Now())
}

func (f *fakeService) StartPreparing(ctx context.Context, id string) (domain.Order, error) {
	return f.advance(ctx, id, (*domain.Order).StartPreparing)
}

func (f *fakeService) Ship(ctx context.Context, id string) (domain.Order, error) {
	return f.advance(ctx, id, (*domain.Order).MarkAsShipped)
}

func (f *fakeService) Deliver(ctx context.Context, id string) (domain.Order, error) {
	return f.advance(ctx, id, (*domain.Order).MarkAsDelivered)
}

func (f *fakeService) Complete(ctx context.Context, id string) (domain.Order, error) {
	return f.advance(ctx, id, (*domain.Order).MarkAsCompleted)
}

func (f *fakeService) RequestRefund(ctx context.Context, id string) (domain.Order, error) {
	return f.advance(ctx, id, (*domain.Order).RequestRefund)
}

func newTestServer(t *testing.T, svc *fakeService) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Code
}

var createBody = map[string]any{
	"memberId":  "m-1",
	"addressId": "a-1",
	"items":     []map[string]any{{"productOptionId": 1, "quantity": 2, "unitPrice": 1000}},
}

func TestCreateOrder(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp := post(t, srv.URL+"/orders", createBody)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var out orderResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "PENDING" || out.TotalAmount != 2000 || out.FinalAmount != 5000 {
		t.Fatalf("unexpected response %+v", out)
	}
	if len(svc.created.Items) != 1 || svc.created.Items[0].Quantity != 2 {
		t.Fatalf("unexpected service input %+v", svc.created)
	}
}

func TestCreateOrderErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   any
		status int
		code   string
	}{
		{"unknown field", nil, map[string]any{"bogus": 1}, http.StatusBadRequest, "invalid_request_body"},
		{"invalid order", fmt.Errorf("%w: no items", domain.ErrInvalidOrder), createBody, http.StatusBadRequest, "invalid_argument"},
		{"insufficient stock", orchestrator.ErrInsufficientStock, createBody, http.StatusConflict, "insufficient_stock"},
		{"unknown option", orchestrator.ErrInventoryNotFound, createBody, http.StatusUnprocessableEntity, "inventory_not_found"},
		{"inventory down", fmt.Errorf("%w: timeout", orchestrator.ErrStockReservationFailed), createBody, http.StatusServiceUnavailable, "stock_reservation_failed"},
		{"unexpected", fmt.Errorf("boom"), createBody, http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeService{createErr: tt.err})
			resp := post(t, srv.URL+"/orders", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			if got := errorCode(t, resp); got != tt.code {
				t.Fatalf("expected code %q, got %q", tt.code, got)
			}
		})
	}
}

func TestGetOrder(t *testing.T) {
	srv := newTestServer(t, &fakeService{orders: map[string]domain.Order{
		"o-1": {ID: "o-1", Status: domain.StatusPaid, Items: []domain.OrderItem{{ProductOptionID: 1, Quantity: 1}}},
	}})

	resp, err := http.Get(srv.URL + "/orders/o-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	missing, err := http.Get(srv.URL + "/orders/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound || errorCode(t, missing) != "order_not_found" {
		t.Fatalf("expected 404 order_not_found, got %d", missing.StatusCode)
	}
}

func TestCancelOrder(t *testing.T) {
	svc := &fakeService{orders: map[string]domain.Order{
		"paid":    {ID: "paid", Status: domain.StatusPaid},
		"shipped": {ID: "shipped", Status: domain.StatusShipped},
	}}
	srv := newTestServer(t, svc)

	resp := post(t, srv.URL+"/orders/paid/cancel", map[string]string{"reason": "changed mind"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if svc.cancelled != "changed mind" {
		t.Fatalf("reason not passed through: %q", svc.cancelled)
	}

	resp = post(t, srv.URL+"/orders/shipped/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if got := errorCode(t, resp); got != "order_cannot_be_cancelled" {
		t.Fatalf("unexpected code %q", got)
	}
}

func TestLifecycleSteps(t *testing.T) {
	svc := &fakeService{orders: map[string]domain.Order{
		"paid":    {ID: "paid", Status: domain.StatusPaid},
		"pending": {ID: "pending", Status: domain.StatusPending},
	}}
	srv := newTestServer(t, svc)

	resp := post(t, srv.URL+"/orders/paid/prepare", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp = post(t, srv.URL+"/orders/pending/ship", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if got := errorCode(t, resp); got != "invalid_order_status" {
		t.Fatalf("unexpected code %q", got)
	}
}
