package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultAPIURL = "https://api.clerk.com/v1"

// ErrUserNotFound is returned when the provider has no record for a subject.
var ErrUserNotFound = errors.New("provider user not found")

// Client calls the provider's backend API (server-side).
type Client struct {
	httpClient *http.Client
	secretKey  string
	baseURL    string
}

// NewClient creates a provider API client. secretKey must be non-empty for
// authenticated calls; baseURL defaults to the hosted API when blank.
func NewClient(secretKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// GetUser fetches the provider-side record for a subject.
func (c *Client) GetUser(ctx context.Context, externalID string) (*UserPayload, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, errors.New("external id is required")
	}

	url := c.baseURL + "/users/" + externalID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider api status %d", resp.StatusCode)
	}

	var user UserPayload
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}
