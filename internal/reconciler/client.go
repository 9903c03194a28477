package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SyncCaller performs one sync attempt and classifies its failure.
type SyncCaller interface {
	// Sync returns the resolved role id on success. retryable distinguishes
	// transient infrastructure failures from terminal ones.
	Sync(ctx context.Context, in Input) (roleID int, retryable bool, err error)
}

// HTTPCaller posts sync requests to the service's sync endpoint, which shares
// its upsert path with the webhook ingestor.
type HTTPCaller struct {
	httpClient *http.Client
	endpoint   string
}

// NewHTTPCaller creates a sync caller with a bounded per-attempt timeout.
func NewHTTPCaller(endpoint string, timeout time.Duration) *HTTPCaller {
	return &HTTPCaller{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
	}
}

type syncRequest struct {
	SubjectID string `json:"subjectId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	IsNewUser bool   `json:"isNewUser"`
}

type syncResponse struct {
	Success bool `json:"success"`
	Data    struct {
		RoleID int `json:"roleId"`
	} `json:"data"`
	Error string `json:"error"`
}

func (c *HTTPCaller) Sync(ctx context.Context, in Input) (int, bool, error) {
	payload, err := json.Marshal(syncRequest{
		SubjectID: in.SubjectID,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		ImageURL:  in.ImageURL,
		IsNewUser: in.IsNewUser,
	})
	if err != nil {
		return 0, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if in.SessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+in.SessionToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport errors and client timeouts are transient by definition.
		return 0, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, retryableStatus(resp.StatusCode), fmt.Errorf("sync endpoint status %d", resp.StatusCode)
	}

	var body syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, false, fmt.Errorf("decode sync response: %w", err)
	}
	if !body.Success {
		return 0, false, fmt.Errorf("sync rejected: %s", body.Error)
	}
	return body.Data.RoleID, false, nil
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}
