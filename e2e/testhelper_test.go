package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/leadpilot/api/internal/client"
	"github.com/leadpilot/api/internal/config"
	"github.com/leadpilot/api/internal/handler"
	"github.com/leadpilot/api/internal/middleware"
	"github.com/leadpilot/api/internal/runner"
	"github.com/leadpilot/api/internal/sendqueue"
	"github.com/leadpilot/api/internal/service"
	"github.com/leadpilot/api/internal/store"
	"github.com/leadpilot/api/internal/stream"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	leads *store.MemoryStore
	jobs  *runner.MemoryJobStore
	runs  *runner.Service
	queue *sendqueue.Queue
}

// setupApp builds a Fiber app wired like main.go, but on in-memory stores
// and with unconfigured external clients so every collaborator answers with
// its mock fallback. Job triggers additionally need redis for the task
// queue; tests that exercise them call requireRedis first.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()
	hub := stream.NewHub()

	// External clients — all unconfigured so mock fallbacks answer
	openaiClient := client.NewOpenAIClient(&config.OpenAIConfig{}, nil)
	hubspotClient := client.NewHubSpotClient(&config.HubSpotConfig{}, nil)
	gmailClient := client.NewGmailClient(&config.GmailConfig{}, nil)

	leadStore := store.NewMemoryStore()
	jobStore := runner.NewMemoryJobStore()
	runs := runner.NewService(jobStore, asynqClient, hub)

	queue := sendqueue.New(gmailClient, leadStore, 1000, 10*time.Millisecond)
	queueCtx, stopQueue := context.WithCancel(context.Background())
	t.Cleanup(stopQueue)
	go queue.Start(queueCtx)

	leadService := service.NewLeadService(leadStore, hubspotClient)

	leadHandler := handler.NewLeadHandler(leadService, validate)
	jobHandler := handler.NewJobHandler(runs, validate)
	sendHandler := handler.NewSendHandler(queue, leadStore, validate)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(nil) // no redis: limits disabled

	app := fiber.New()

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":   false,
				"openai":  openaiClient.IsConfigured(),
				"hubspot": hubspotClient.IsConfigured(),
				"gmail":   gmailClient.IsConfigured(),
			},
		})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	leads := api.Group("/leads")
	leads.Get("/", leadHandler.List)
	leads.Post("/", leadHandler.Create)
	leads.Get("/:id", leadHandler.Get)
	leads.Patch("/:id", leadHandler.Update)
	leads.Delete("/:id", leadHandler.Delete)
	leads.Post("/:id/stage", leadHandler.Transition)
	leads.Post("/:id/approve", leadHandler.Approve)

	scan := api.Group("/scan", rateLimiter.ScanLimit(10000))
	scan.Post("/discovery", jobHandler.StartDiscovery)
	scan.Post("/scaffolding", jobHandler.StartScaffolding)
	api.Post("/research/start", rateLimiter.ResearchLimit(10000), jobHandler.StartResearch)
	api.Post("/agent/street", rateLimiter.AgentLimit(10000), jobHandler.StartStreetAgent)

	jobs := api.Group("/jobs")
	jobs.Get("/:jobId/status", jobHandler.Status)
	jobs.Get("/:jobId/stream", jobHandler.Stream)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	api.Post("/send", rateLimiter.SendLimit(10000), sendHandler.Enqueue)
	api.Get("/send/stats", sendHandler.Stats)
	api.Get("/send/items", sendHandler.Items)

	return &testApp{
		app:   app,
		leads: leadStore,
		jobs:  jobStore,
		runs:  runs,
		queue: queue,
	}
}

// requireRedis skips the test unless a local redis answers, mirroring how
// the task queue dependency works in production.
func requireRedis(t *testing.T) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	m := middleware.NewAuthMiddleware(testJWTSecret)
	token, err := m.GenerateToken("test-user-123", "test@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// eventually polls until the condition holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
