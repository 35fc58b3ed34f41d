package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const idempotencyHeader = "Idempotency-Key"

type saleItem struct {
	ProductID   int64   `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

type saleRequest struct {
	SaleDate     time.Time  `json:"saleDate"`
	CustomerID   int64      `json:"customerId"`
	CustomerName string     `json:"customerName"`
	BranchID     int64      `json:"branchId"`
	BranchName   string     `json:"branchName"`
	Items        []saleItem `json:"items"`
}

type saleEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		ID      string `json:"id"`
		Version int64  `json:"version"`
	} `json:"data"`
}

// statusError - ответ API с кодом вне 2xx.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

type salesAPI interface {
	Create(ctx context.Context, req saleRequest, key string) (string, error)
	Get(ctx context.Context, id string) error
	Update(ctx context.Context, id string, req saleRequest, key string) error
	Cancel(ctx context.Context, id, key string) error
}

type salesClient struct {
	baseURL string
	http    *http.Client
}

func newSalesClient(baseURL string, httpClient *http.Client) *salesClient {
	return &salesClient{baseURL: baseURL + "/api/sales", http: httpClient}
}

func (c *salesClient) Create(ctx context.Context, req saleRequest, key string) (string, error) {
	var env saleEnvelope
	if err := c.do(ctx, http.MethodPost, c.baseURL, key, req, http.StatusCreated, &env); err != nil {
		return "", err
	}
	if env.Data.ID == "" {
		return "", fmt.Errorf("create response returned empty sale id")
	}
	return env.Data.ID, nil
}

func (c *salesClient) Get(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodGet, c.baseURL+"/"+id, "", nil, http.StatusOK, nil)
}

func (c *salesClient) Update(ctx context.Context, id string, req saleRequest, key string) error {
	return c.do(ctx, http.MethodPut, c.baseURL+"/"+id, key, req, http.StatusOK, nil)
}

func (c *salesClient) Cancel(ctx context.Context, id, key string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/"+id, key, nil, http.StatusOK, nil)
}

func (c *salesClient) do(ctx context.Context, method, url, key string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != want {
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// statusLabel превращает результат вызова в метку для отчёта.
func statusLabel(err error) string {
	var se *statusError
	switch {
	case err == nil:
		return "OK"
	case errors.As(err, &se):
		return strconv.Itoa(se.code)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
