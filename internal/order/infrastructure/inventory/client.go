// Package inventory calls the inventory service's internal HTTP API on behalf
// of the reservation coordinator.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmehra2102/marketplace-core/internal/orchestrator/domain"
	"github.com/dmehra2102/marketplace-core/pkg/httpx"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
	"github.com/dmehra2102/marketplace-core/pkg/tracing"
)

type Client struct {
	log     *slog.Logger
	baseURL string
	http    *http.Client
	retries uint64
	backoff time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithRetries(n uint64, initial time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.backoff = initial
	}
}

func NewClient(log *slog.Logger, baseURL string, opts ...Option) *Client {
	c := &Client{
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		retries: 3,
		backoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
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

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Reserve holds stock for one line. Exhausted retries surface as
// domain.ErrStockReservationFailed.
func (c *Client) Reserve(ctx context.Context, orderID string, line domain.Line) (domain.Reserved, error) {
	body, err := json.Marshal(reserveRequest{ProductOptionID: line.ProductOptionID, Quantity: line.Quantity, OrderID: orderID})
	if err != nil {
		return domain.Reserved{}, err
	}

	var out reserveResponse
	err = c.do(ctx, http.MethodPost, "/internal/inventory/reserve", body, &out)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrInventoryNotFound) {
			return domain.Reserved{}, err
		}
		return domain.Reserved{}, fmt.Errorf("%w: option %d: %v", domain.ErrStockReservationFailed, line.ProductOptionID, err)
	}
	return domain.Reserved{
		ProductOptionID:   line.ProductOptionID,
		Quantity:          line.Quantity,
		ReservationID:     out.ReservationID,
		AvailableQuantity: out.AvailableQuantity,
	}, nil
}

func (c *Client) Release(ctx context.Context, orderID string, line domain.ReleaseLine) error {
	q := url.Values{}
	q.Set("quantity", strconv.Itoa(line.Quantity))
	q.Set("orderId", orderID)
	if line.Reason != "" {
		q.Set("reason", line.Reason)
	}
	path := "/internal/inventory/option/" + strconv.FormatInt(line.ProductOptionID, 10) + "/release?" + q.Encode()
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) Confirm(ctx context.Context, reservationID string) error {
	return c.do(ctx, http.MethodPost, "/internal/inventory/reservations/"+url.PathEscape(reservationID)+"/confirm", nil, nil)
}

func (c *Client) Reopen(ctx context.Context, reservationID, reason string) error {
	path := "/internal/inventory/reservations/" + url.PathEscape(reservationID) + "/reopen"
	if reason != "" {
		path += "?" + url.Values{"reason": {reason}}.Encode()
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// do retries transport failures and 5xx answers. 4xx answers are final.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	log := logging.WithTrace(ctx, c.log).With("method", method, "path", path)

	call := func() error {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		tracing.InjectHTTPHeaders(ctx, req.Header)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("inventory service answered %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(decodeError(resp))
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode inventory response: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoff
	notify := func(err error, next time.Duration) {
		log.Warn("inventory call retry", "err", err, "retry_in", next)
	}
	return backoff.RetryNotify(call, backoff.WithContext(backoff.WithMaxRetries(bo, c.retries), ctx), notify)
}

func decodeError(resp *http.Response) error {
	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)

	switch {
	case eb.Code == httpx.CodeInsufficientStock:
		return fmt.Errorf("%w: %s", domain.ErrInsufficientStock, eb.Error)
	case eb.Code == httpx.CodeInventoryNotFound, resp.StatusCode == http.StatusNotFound && eb.Code == "":
		return fmt.Errorf("%w: %s", domain.ErrInventoryNotFound, eb.Error)
	default:
		return fmt.Errorf("inventory service answered %d %s: %s", resp.StatusCode, eb.Code, eb.Error)
	}
}
