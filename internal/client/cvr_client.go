package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/leadpilot/api/internal/config"
)

// CvrClient resolves property ownership through the Danish central business
// register (cvrapi.dk). The API requires a descriptive User-Agent instead of
// a key.
type CvrClient struct {
	httpClient *http.Client
	limiter    *HostLimiter
	baseURL    string
	userAgent  string
}

func NewCvrClient(cfg *config.CvrConfig, limiter *HostLimiter) *CvrClient {
	return &CvrClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
	}
}

type cvrResponse struct {
	Vat     int    `json:"vat"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Owners  []struct {
		Name string `json:"name"`
	} `json:"owners"`
	Error string `json:"error"`
}

// LookupOwner searches the register by address and returns the owning
// company, if any.
func (c *CvrClient) LookupOwner(ctx context.Context, address, postalCode string) (*OwnerInfo, error) {
	if c.baseURL == "" {
		return c.mockOwner(address), nil
	}

	q := url.Values{}
	q.Set("search", fmt.Sprintf("%s %s", address, postalCode))
	q.Set("country", "dk")
	endpoint := fmt.Sprintf("%s?%s", c.baseURL, q.Encode())

	if err := c.limiter.WaitURL(ctx, endpoint); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // no registered company on the address
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cvr API error (status %d): %s", resp.StatusCode, string(body))
	}

	var out cvrResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.Error != "" || out.Name == "" {
		return nil, nil
	}

	info := &OwnerInfo{
		Company: out.Name,
		Cvr:     fmt.Sprintf("%d", out.Vat),
		Email:   out.Email,
		Phone:   out.Phone,
	}
	if len(out.Owners) > 0 {
		info.ContactPerson = out.Owners[0].Name
	}
	return info, nil
}

func (c *CvrClient) mockOwner(address string) *OwnerInfo {
	return &OwnerInfo{
		Company:       fmt.Sprintf("Ejendomsselskabet %s ApS", address),
		Cvr:           "12345678",
		ContactPerson: "Mock Ejer",
	}
}
