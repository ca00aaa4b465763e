package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leadpilot/api/internal/config"
)

// OpenAIClient handles the chat-completion calls behind scoring, research
// and email drafting. When no API key is configured every method returns a
// deterministic mock so the pipeline runs end-to-end in development.
type OpenAIClient struct {
	httpClient *http.Client
	limiter    *HostLimiter
	baseURL    string
	apiKey     string
	model      string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func NewOpenAIClient(cfg *config.OpenAIConfig, limiter *HostLimiter) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    limiter,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// IsConfigured returns true if the client has valid configuration.
func (c *OpenAIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// ChatCompletion sends one system+user exchange and returns the raw reply.
func (c *OpenAIClient) ChatCompletion(ctx context.Context, system, user string) (string, error) {
	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.4,
		MaxTokens:   1024,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	if err := c.limiter.WaitURL(ctx, endpoint); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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
		return "", fmt.Errorf("openai API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// ScoreCandidate rates a property's outdoor-advertising suitability 0-10.
func (c *OpenAIClient) ScoreCandidate(ctx context.Context, address, city string) (*ScoreResult, error) {
	if !c.IsConfigured() {
		return c.mockScore(address), nil
	}

	system := `You are an outdoor advertising media buyer evaluating building facades and gables in Danish cities.
Always output your response as valid JSON in the exact format requested. Do not include any text outside the JSON structure.`
	user := fmt.Sprintf(`Rate the suitability of the property at "%s, %s" for an outdoor advertising placement.
Consider visibility, expected daily traffic and surroundings.

Output as JSON: {"score": 0-10, "reason": "...", "dailyTraffic": <estimated passers-by per day>, "trafficSource": "..."}`,
		address, city)

	reply, err := c.ChatCompletion(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("AI scoring failed: %w", err)
	}

	var out struct {
		Score         float64 `json:"score"`
		Reason        string  `json:"reason"`
		DailyTraffic  int     `json:"dailyTraffic"`
		TrafficSource string  `json:"trafficSource"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &out); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}
	return &ScoreResult{
		Score:         out.Score,
		Reason:        out.Reason,
		DailyTraffic:  out.DailyTraffic,
		TrafficSource: out.TrafficSource,
	}, nil
}

// ResearchLead summarizes a property's ownership situation and digs for a
// usable contact.
func (c *OpenAIClient) ResearchLead(ctx context.Context, address, ownerCompany string) (*ResearchOutcome, error) {
	if !c.IsConfigured() {
		return c.mockResearch(address, ownerCompany), nil
	}

	system := `You are a sales researcher preparing outreach to Danish property owners.
Always output your response as valid JSON in the exact format requested. Do not include any text outside the JSON structure.`
	user := fmt.Sprintf(`Research the property at "%s" owned by "%s".
Summarize who the owner is, how to reach a decision maker, and any relevant context for an outdoor advertising pitch.

Output as JSON: {"summary": "...", "links": ["..."], "contact": {"person": "...", "email": "...", "phone": "..."} or null}`,
		address, ownerCompany)

	reply, err := c.ChatCompletion(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("AI research failed: %w", err)
	}

	var out struct {
		Summary string   `json:"summary"`
		Links   []string `json:"links"`
		Contact *struct {
			Person string `json:"person"`
			Email  string `json:"email"`
			Phone  string `json:"phone"`
		} `json:"contact"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &out); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}

	res := &ResearchOutcome{Summary: out.Summary, Links: out.Links}
	if out.Contact != nil && out.Contact.Email != "" {
		res.Contact = &OwnerInfo{
			ContactPerson: out.Contact.Person,
			Email:         out.Contact.Email,
			Phone:         out.Contact.Phone,
		}
	}
	return res, nil
}

// DraftEmail writes a first outreach email for a researched lead.
func (c *OpenAIClient) DraftEmail(ctx context.Context, address, contactPerson, researchSummary string) (*DraftResult, error) {
	if !c.IsConfigured() {
		return c.mockDraft(address, contactPerson), nil
	}

	system := `You write short, polite Danish B2B outreach emails for an outdoor advertising company.
Always output your response as valid JSON in the exact format requested. Do not include any text outside the JSON structure.`
	user := fmt.Sprintf(`Write a first outreach email about renting facade advertising space at "%s".
Recipient: %s
Research notes: %s

Keep it under 120 words, friendly and concrete.
Output as JSON: {"subject": "...", "body": "..."}`,
		address, contactPerson, researchSummary)

	reply, err := c.ChatCompletion(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("AI drafting failed: %w", err)
	}

	var out DraftResult
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &out); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}
	if out.Subject == "" || out.Body == "" {
		return nil, fmt.Errorf("AI draft incomplete")
	}
	return &out, nil
}

// Mock fallbacks. Deterministic per address so repeated runs behave the same.

func (c *OpenAIClient) mockScore(address string) *ScoreResult {
	h := fnv.New32a()
	h.Write([]byte(address))
	score := 4 + float64(h.Sum32()%60)/10 // 4.0 - 9.9
	return &ScoreResult{
		Score:         score,
		Reason:        fmt.Sprintf("Mock score for %s", address),
		DailyTraffic:  2000 + int(h.Sum32()%8000),
		TrafficSource: "mock-estimate",
	}
}

func (c *OpenAIClient) mockResearch(address, ownerCompany string) *ResearchOutcome {
	company := ownerCompany
	if company == "" {
		company = "Ukendt Ejendomsselskab ApS"
	}
	return &ResearchOutcome{
		Summary: fmt.Sprintf("Mock research: %s is owned by %s.", address, company),
		Links:   []string{"https://example.com/mock-research"},
		Contact: &OwnerInfo{
			ContactPerson: "Mock Kontakt",
			Email:         "kontakt@example.com",
			Phone:         "+45 00 00 00 00",
		},
	}
}

func (c *OpenAIClient) mockDraft(address, contactPerson string) *DraftResult {
	name := contactPerson
	if name == "" {
		name = "rette vedkommende"
	}
	return &DraftResult{
		Subject: fmt.Sprintf("Reklameplads på %s", address),
		Body: fmt.Sprintf("Kære %s,\n\nVi er interesserede i at leje facadeplads på %s til udendørsreklame. "+
			"Må vi sende et uforpligtende oplæg?\n\nVenlig hilsen\nLeadPilot", name, address),
	}
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
