package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/ajnasrah/viralflow/internal/client"
	"github.com/ajnasrah/viralflow/internal/config"
	"github.com/ajnasrah/viralflow/internal/engine"
	"github.com/ajnasrah/viralflow/internal/handler"
	"github.com/ajnasrah/viralflow/internal/middleware"
	"github.com/ajnasrah/viralflow/internal/selector"
	"github.com/ajnasrah/viralflow/internal/service"
	"github.com/ajnasrah/viralflow/internal/store"
	"github.com/ajnasrah/viralflow/internal/worker"
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

	// Workflow store: Redis when reachable, in-memory fallback for local runs
	ctx := context.Background()
	var wfStore store.Store
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available, using in-memory store: %v", err)
		wfStore = store.NewMemoryStore()
	} else {
		wfStore = store.NewRedisStore(redisClient)
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

	// Initialize external clients
	heygenClient := client.NewHeyGenClient(&cfg.HeyGen)
	submagicClient := client.NewSubmagicClient(&cfg.Submagic)
	lateClient := client.NewLateClient(&cfg.Late)
	llmClient := client.NewLLMClient(&cfg.LLM)

	// Initialize R2 client (optional - continues if not configured)
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storage = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, passing upstream URLs through")
	}

	// Initialize engine
	agentSelector := selector.New(wfStore)
	scriptService := service.NewScriptService(llmClient)
	eng := engine.New(engine.Deps{
		Store:     wfStore,
		Renderer:  heygenClient,
		Enhancer:  submagicClient,
		Publisher: lateClient,
		Storage:   storage,
		Scripts:   scriptService,
		Selector:  agentSelector,
		Tenants:   cfg.Tenants,
		Workflow:  cfg.Workflow,
		Webhook:   cfg.Webhook,
		Tasks:     worker.NewEnqueuer(asynqClient),
	})

	// Initialize handlers
	webhookHandler := handler.NewWebhookHandler(eng, cfg.Webhook.Token, cfg.Webhook.SigningSecret)
	workflowHandler := handler.NewWorkflowHandler(eng, validate)
	agentHandler := handler.NewAgentHandler(agentSelector, cfg.Tenants, validate)
	triggerHandler := handler.NewTriggerHandler(eng)

	// Initialize middleware
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled — using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)
	cronAuth := middleware.CronAuth(cfg.Cron.Secret)

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
		AllowMethods: "GET,POST,OPTIONS",
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
				"heygen":   heygenClient.IsConfigured(),
				"submagic": submagicClient.IsConfigured(),
				"late":     lateClient.IsConfigured(),
				"llm":      llmClient.IsConfigured(),
				"r2":       storage != nil,
			},
		})
	})

	// Webhook routes (authenticated per service, not by JWT)
	webhooks := app.Group("/api/webhooks")
	webhooks.Post("/heygen/:tenant", webhookHandler.HeyGen)
	webhooks.Post("/submagic/:tenant", webhookHandler.Submagic)

	// Cron trigger routes
	cron := app.Group("/api/cron", cronAuth)
	cron.Post("/schedule", triggerHandler.Schedule)
	cron.Post("/sweep", triggerHandler.Sweep)

	// Operator API routes. Grouped by prefix so the JWT middleware never
	// shadows the webhook and cron paths above.
	workflows := app.Group("/api/workflows", apiAuthMiddleware)
	workflows.Post("/", rateLimiter.CreateLimit(cfg.RateLimit.CreatePerHour), workflowHandler.Create)
	workflows.Get("/:tenant", workflowHandler.List)
	workflows.Get("/:tenant/:id", workflowHandler.Get)
	workflows.Post("/:tenant/:id/requeue", rateLimiter.RequeueLimit(cfg.RateLimit.RequeuePerHour), workflowHandler.Requeue)

	agents := app.Group("/api/agents", apiAuthMiddleware)
	agents.Get("/:tenant/stats", agentHandler.Stats)
	agents.Post("/:tenant/preview", agentHandler.Preview)
	agents.Post("/:tenant/reset", agentHandler.Reset)

	// Start Asynq worker server and periodic scheduler
	go startWorkerServer(cfg, eng)
	go startPeriodicScheduler(cfg)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
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

func startWorkerServer(cfg *config.Config, eng *engine.Engine) {
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
				worker.QueueWorkflow: 5,
				worker.QueuePublish:  4,
				"default":            1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	workflowWorker := worker.NewWorkflowWorker(eng)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeStart, workflowWorker.ProcessStart)
	mux.HandleFunc(worker.TaskTypeDistribute, workflowWorker.ProcessDistribute)
	mux.HandleFunc(worker.TaskTypeCronSchedule, workflowWorker.ProcessCronSchedule)
	mux.HandleFunc(worker.TaskTypeCronSweep, workflowWorker.ProcessCronSweep)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

// startPeriodicScheduler registers the recurring schedule and sweep tasks.
// External cron hits on /api/cron remain available as an operational
// override.
func startPeriodicScheduler(cfg *config.Config) {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		&asynq.SchedulerOpts{},
	)

	scheduleSpec := fmt.Sprintf("@every %s", cfg.Cron.ScheduleInterval)
	sweepSpec := fmt.Sprintf("@every %s", cfg.Cron.SweepInterval)

	if _, err := scheduler.Register(scheduleSpec, asynq.NewTask(worker.TaskTypeCronSchedule, nil)); err != nil {
		log.Printf("Failed to register schedule task: %v", err)
	}
	if _, err := scheduler.Register(sweepSpec, asynq.NewTask(worker.TaskTypeCronSweep, nil)); err != nil {
		log.Printf("Failed to register sweep task: %v", err)
	}

	if err := scheduler.Run(); err != nil {
		log.Printf("Asynq scheduler error: %v", err)
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
