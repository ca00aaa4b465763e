package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/api/internal/config"
)

// GmailClient delivers outbound mail through the Gmail REST API. Used
// exclusively by the send queue worker; it performs no queuing or rate
// limiting of its own.
type GmailClient struct {
	httpClient *http.Client
	limiter    *HostLimiter
	baseURL    string
	token      string
	sender     string
	senderName string
}

func NewGmailClient(cfg *config.GmailConfig, limiter *HostLimiter) *GmailClient {
	return &GmailClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		sender:     cfg.Sender,
		senderName: cfg.SenderName,
	}
}

// IsConfigured returns true if the client has valid configuration.
func (c *GmailClient) IsConfigured() bool {
	return c.token != "" && c.sender != ""
}

// Send delivers one email and returns the Gmail message ID.
func (c *GmailClient) Send(ctx context.Context, to, subject, body string) (string, error) {
	if !c.IsConfigured() {
		// Mock delivery for development: pretend success.
		return "mock-" + uuid.New().String(), nil
	}

	raw := c.buildRFC822(to, subject, body)
	payload, err := json.Marshal(map[string]string{
		"raw": base64.URLEncoding.EncodeToString([]byte(raw)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "/gmail/v1/users/me/messages/send"
	if err := c.limiter.WaitURL(ctx, endpoint); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gmail API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return out.ID, nil
}

func (c *GmailClient) buildRFC822(to, subject, body string) string {
	from := c.sender
	if c.senderName != "" {
		from = fmt.Sprintf("%s <%s>", c.senderName, c.sender)
	}
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
		from, to, subject, body)
}
