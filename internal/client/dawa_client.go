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

// DawaClient looks up Danish access addresses through DAWA
// (Danmarks Adressers Web API). The API is public and keyless.
type DawaClient struct {
	httpClient *http.Client
	limiter    *HostLimiter
	baseURL    string
}

func NewDawaClient(cfg *config.DawaConfig, limiter *HostLimiter) *DawaClient {
	return &DawaClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		baseURL:    cfg.BaseURL,
	}
}

type dawaAddress struct {
	Vejnavn string `json:"vejnavn"`
	Husnr   string `json:"husnr"`
	Postnr  string `json:"postnr"`
	Postnrnavn string `json:"postnrnavn"`
}

// SearchStreet returns up to limit addresses along a street in a city.
func (c *DawaClient) SearchStreet(ctx context.Context, street, city string, limit int) ([]Address, error) {
	if c.baseURL == "" {
		return c.mockAddresses(street, city, limit), nil
	}

	q := url.Values{}
	q.Set("q", fmt.Sprintf("%s, %s", street, city))
	q.Set("per_side", fmt.Sprintf("%d", limit))
	q.Set("struktur", "mini")
	endpoint := fmt.Sprintf("%s/adgangsadresser?%s", c.baseURL, q.Encode())

	if err := c.limiter.WaitURL(ctx, endpoint); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dawa API error (status %d): %s", resp.StatusCode, string(body))
	}

	var rows []dawaAddress
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	addrs := make([]Address, 0, len(rows))
	for _, r := range rows {
		addrs = append(addrs, Address{
			Address:    fmt.Sprintf("%s %s", r.Vejnavn, r.Husnr),
			PostalCode: r.Postnr,
			City:       r.Postnrnavn,
		})
	}
	return addrs, nil
}

func (c *DawaClient) mockAddresses(street, city string, limit int) []Address {
	if limit <= 0 || limit > 10 {
		limit = 10
	}
	addrs := make([]Address, 0, limit)
	for i := 0; i < limit; i++ {
		addrs = append(addrs, Address{
			Address:    fmt.Sprintf("%s %d", street, (i+1)*2),
			PostalCode: "1620",
			City:       city,
		})
	}
	return addrs
}
