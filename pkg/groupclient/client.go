/**
 * @description
 * This package provides a client for communicating with the group-service.
 * The wallet asks it whether an owner belongs to a savings group before taking a
 * contribution, and tells it once the contribution has been debited.
 */
package groupclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stokvel/wallet-service/internal/domain"
)

// ErrGroupNotFound is returned when the group service does not know the group.
var ErrGroupNotFound = errors.New("group not found")

// Client is a client for the group service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new group service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ContributionNotice tells the group service a contribution was debited.
type ContributionNotice struct {
	ContributionID string    `json:"contribution_id"`
	TransactionID  string    `json:"transaction_id"`
	UserID         string    `json:"user_id"`
	AmountCents    int64     `json:"amount_cents"`
	ContributedAt  time.Time `json:"contributed_at"`
}

// Membership returns the owner's membership in the group.
func (c *Client) Membership(ctx context.Context, groupID, ownerID string) (*domain.GroupMembership, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("group service base url is empty")
	}

	endpoint := fmt.Sprintf("%s/internal/groups/%s/members/%s", c.baseURL, url.PathEscape(groupID), url.PathEscape(ownerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to group service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrGroupNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("group service returned error status %d", resp.StatusCode)
	}

	var membership domain.GroupMembership
	if err := json.NewDecoder(resp.Body).Decode(&membership); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if membership.GroupID == "" {
		membership.GroupID = groupID
	}
	if membership.OwnerID == "" {
		membership.OwnerID = ownerID
	}
	return &membership, nil
}

// ConfirmContribution records a debited contribution against the group pool.
func (c *Client) ConfirmContribution(ctx context.Context, groupID string, notice ContributionNotice) error {
	if c.baseURL == "" {
		return fmt.Errorf("group service base url is empty")
	}

	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/internal/groups/%s/contributions", c.baseURL, url.PathEscape(groupID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to group service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("group service returned error status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}
}
