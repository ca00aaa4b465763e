package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
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
	"github.com/leadpilot/api/internal/worker"
	ws "github.com/leadpilot/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection. Without redis the app still serves with
	// in-memory stores, which covers local development.
	ctx := context.Background()
	redisUp := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available, using in-memory stores: %v", err)
		redisUp = false
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize progress hub
	hub := stream.NewHub()

	// Initialize external clients behind a shared outbound limiter
	limiter := client.NewHostLimiter(cfg.Outbound.ReqPerSec, cfg.Outbound.Burst)
	openaiClient := client.NewOpenAIClient(&cfg.OpenAI, limiter)
	dawaClient := client.NewDawaClient(&cfg.Dawa, limiter)
	cvrClient := client.NewCvrClient(&cfg.Cvr, limiter)
	hubspotClient := client.NewHubSpotClient(&cfg.HubSpot, limiter)
	gmailClient := client.NewGmailClient(&cfg.Gmail, limiter)

	// Initialize stores
	var leadStore store.LeadStore
	var jobStore runner.JobStore
	if redisUp {
		leadStore = store.NewRedisStore(redisClient)
		jobStore = runner.NewRedisJobStore(redisClient)
	} else {
		leadStore = store.NewMemoryStore()
		jobStore = runner.NewMemoryJobStore()
	}

	// Initialize job runner and send queue
	runs := runner.NewService(jobStore, asynqClient, hub)
	sendQueue := sendqueue.New(gmailClient, leadStore,
		cfg.SendQueue.HourlyCap,
		time.Duration(cfg.SendQueue.PollInterval)*time.Second,
	)

	queueCtx, stopQueue := context.WithCancel(ctx)
	defer stopQueue()
	go sendQueue.Start(queueCtx)

	// Initialize services
	leadService := service.NewLeadService(leadStore, hubspotClient)

	// Initialize handlers
	leadHandler := handler.NewLeadHandler(leadService, validate)
	jobHandler := handler.NewJobHandler(runs, validate)
	sendHandler := handler.NewSendHandler(sendQueue, leadStore, validate)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize WebSocket hub
	wsHub := ws.NewHub(hub, runs)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":   redisUp,
				"openai":  openaiClient.IsConfigured(),
				"hubspot": hubspotClient.IsConfigured(),
				"gmail":   gmailClient.IsConfigured(),
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	// Lead routes
	leads := api.Group("/leads")
	leads.Get("/", leadHandler.List)
	leads.Post("/", leadHandler.Create)
	leads.Get("/:id", leadHandler.Get)
	leads.Patch("/:id", leadHandler.Update)
	leads.Delete("/:id", leadHandler.Delete)
	leads.Post("/:id/stage", leadHandler.Transition)
	leads.Post("/:id/approve", leadHandler.Approve)

	// Scan routes
	scan := api.Group("/scan", rateLimiter.ScanLimit(cfg.RateLimit.ScansPerHour))
	scan.Post("/discovery", jobHandler.StartDiscovery)
	scan.Post("/scaffolding", jobHandler.StartScaffolding)

	// Research routes
	api.Post("/research/start", rateLimiter.ResearchLimit(cfg.RateLimit.ResearchPerHour), jobHandler.StartResearch)

	// Street agent routes
	api.Post("/agent/street", rateLimiter.AgentLimit(cfg.RateLimit.AgentPerHour), jobHandler.StartStreetAgent)

	// Job routes
	jobs := api.Group("/jobs")
	jobs.Get("/:jobId/status", jobHandler.Status)
	jobs.Get("/:jobId/stream", jobHandler.Stream)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	// Send queue routes
	api.Post("/send", rateLimiter.SendLimit(cfg.RateLimit.SendsPerMin), sendHandler.Enqueue)
	api.Get("/send/stats", sendHandler.Stats)
	api.Get("/send/items", sendHandler.Items)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		wsHub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, runs, leadStore, dawaClient, cvrClient, openaiClient)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		stopQueue()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	runs *runner.Service,
	leadStore store.LeadStore,
	dawaClient *client.DawaClient,
	cvrClient *client.CvrClient,
	openaiClient *client.OpenAIClient,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"scan":     4,
				"research": 4,
				"agent":    2,
			},
			LogLevel: asynqLogLevel,
		},
	)

	discoveryWorker := worker.NewDiscoveryWorker(runs, leadStore, dawaClient, openaiClient,
		cfg.Discovery.ScoreThreshold, cfg.Discovery.DefaultLimit)
	researchWorker := worker.NewResearchWorker(runs, leadStore, cvrClient, openaiClient)
	streetAgentWorker := worker.NewStreetAgentWorker(runs, discoveryWorker, researchWorker)

	mux := asynq.NewServeMux()
	mux.HandleFunc(runner.TaskTypeDiscovery, discoveryWorker.ProcessTask)
	mux.HandleFunc(runner.TaskTypeScaffolding, discoveryWorker.ProcessTask)
	mux.HandleFunc(runner.TaskTypeResearch, researchWorker.ProcessTask)
	mux.HandleFunc(runner.TaskTypeStreetAgent, streetAgentWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
