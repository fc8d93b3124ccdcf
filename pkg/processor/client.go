/**
 * @description
 * This package provides a client for the card and bank payment processor that
 * funds deposits and pays out withdrawals. Every request carries the wallet
 * transaction id as its reference and Idempotency-Key, so a retried call never
 * charges or pays out twice.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Kind selects the processor resource a reference belongs to.
type Kind string

const (
	KindCharge Kind = "charges"
	KindPayout Kind = "payouts"
)

// Status is the processor's view of a charge or payout.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusPending   Status = "pending"
)

// Gateway is the part of the processor the wallet depends on.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Result, error)
	Payout(ctx context.Context, req PayoutRequest) (*Result, error)
	Status(ctx context.Context, kind Kind, reference string) (*Result, error)
}

// ChargeRequest pulls funds from a saved card. Amount is in cents and already
// includes the deposit fee.
type ChargeRequest struct {
	Reference   string `json:"reference"`
	CardID      string `json:"card_id"`
	Last4       string `json:"last4"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

// PayoutRequest pushes funds to a bank account.
type PayoutRequest struct {
	Reference         string `json:"reference"`
	BankAccountNumber string `json:"bank_account_number"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Description       string `json:"description,omitempty"`
}

// Result is the processor's answer for a single charge or payout.
type Result struct {
	ProcessorID string `json:"id"`
	Reference   string `json:"reference"`
	Status      Status `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// ErrorResponse is returned for non-2xx answers.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("processor returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("processor returned status %d: %s (%s)", e.StatusCode, e.Message, e.Code)
}

// Rejected reports whether the processor refused the request outright. A 5xx
// says nothing about whether the money moved.
func (e *ErrorResponse) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusNotFound && e.StatusCode != http.StatusTooManyRequests
}

// NotFound reports whether the processor has no record of the reference.
func (e *ErrorResponse) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client is a client for the processor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new processor client. The per-call context bounds each
// request; the HTTP timeout is only a backstop.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Charge asks the processor to charge a card.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	return c.do(ctx, http.MethodPost, "/v1/charges", req.Reference, req, "charge")
}

// Payout asks the processor to pay out to a bank account.
func (c *Client) Payout(ctx context.Context, req PayoutRequest) (*Result, error) {
	return c.do(ctx, http.MethodPost, "/v1/payouts", req.Reference, req, "payout")
}

// Status fetches the current state of an earlier charge or payout.
func (c *Client) Status(ctx context.Context, kind Kind, reference string) (*Result, error) {
	path := fmt.Sprintf("/v1/%s/%s", kind, url.PathEscape(reference))
	return c.do(ctx, http.MethodGet, path, reference, nil, "status")
}

func (c *Client) do(ctx context.Context, method, path, reference string, payload interface{}, op string) (*Result, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", reference)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			log.Printf("level=warn component=processor_client op=%s reference=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, reference, resp.StatusCode)
			return nil, &ErrorResponse{StatusCode: resp.StatusCode}
		}
		log.Printf("level=warn component=processor_client op=%s reference=%s status=%d code=%q message=%q", op, reference, resp.StatusCode, errResp.Code, errResp.Message)
		return nil, errResp
	}

	var result Result
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	result.Status = normalizeStatus(result.Status)
	if result.Reference == "" {
		result.Reference = reference
	}
	return &result, nil
}

func normalizeStatus(status Status) Status {
	switch strings.ToLower(strings.TrimSpace(string(status))) {
	case "succeeded", "successful", "success", "completed":
		return StatusSucceeded
	case "failed", "declined", "reversed", "rejected":
		return StatusFailed
	default:
		return StatusPending
	}
}
