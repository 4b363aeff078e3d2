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
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/sessionscribe/api/internal/client"
	"github.com/sessionscribe/api/internal/config"
	"github.com/sessionscribe/api/internal/handler"
	"github.com/sessionscribe/api/internal/middleware"
	"github.com/sessionscribe/api/internal/pipeline"
	"github.com/sessionscribe/api/internal/service"
	ws "github.com/sessionscribe/api/internal/websocket"
	"github.com/sessionscribe/api/internal/worker"
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
	defer redisClient.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	validate := validator.New()

	jobStore := service.NewRedisJobStore(redisClient)

	hub := ws.NewHub().WithJobLookup(jobStore)
	go hub.Run(ctx)

	// External clients
	speechClient := client.NewAssemblyAIClient(&cfg.Speech)
	if !speechClient.IsConfigured() {
		log.Println("Warning: ASSEMBLYAI_API_KEY is not set, pipeline runs will fail with AuthError")
	}

	generator := noteGenerator(cfg, speechClient)

	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storage = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, note export disabled")
	}

	// Services
	runner := pipeline.New(speechClient, generator, pipeline.OptionsFromConfig(cfg))
	sessionService := service.NewSessionService(runner, jobStore, asynqClient)
	noteService := service.NewNoteService(storage)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimitMB * 1024 * 1024,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		// headers and audio bodies stay out of the log
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${bytesReceived}B in ${bytesSent}B out\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"speech":     speechClient.IsConfigured(),
				"generation": cfg.Generation.Provider,
				"r2":         storage != nil,
				"redis":      redisClient.Ping(c.Context()).Err() == nil,
			},
		})
	})

	handler.SetupRoutes(app, handler.Routes{
		Sessions:    handler.NewSessionHandler(sessionService),
		Notes:       handler.NewNoteHandler(noteService, validate),
		RateLimiter: middleware.NewRateLimiter(middleware.NewRedisCounter(redisClient)),
		Limits:      cfg.RateLimit,
		Hub:         hub,
	})

	workerServer := newWorkerServer(cfg, redisOpt)
	go func() {
		mux := asynq.NewServeMux()
		mux.HandleFunc(service.TaskTypeSession, worker.NewSessionWorker(sessionService, hub).ProcessTask)
		if err := workerServer.Run(mux); err != nil {
			log.Printf("Asynq worker error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		workerServer.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		stop()
	}()

	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s (generation=%s, poll every %s up to %d times)",
		addr, cfg.Generation.Provider, cfg.Pipeline.PollInterval(), cfg.Pipeline.MaxPollAttempts)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// noteGenerator picks the backend that turns the rendered prompt into a note.
func noteGenerator(cfg *config.Config, speechClient *client.AssemblyAIClient) pipeline.NoteGenerator {
	if cfg.Generation.Provider == config.ProviderGroq {
		groqClient := client.NewGroqClient(&cfg.Groq)
		if !groqClient.IsConfigured() {
			log.Println("Warning: GROQ_API_KEY is not set, note generation will fail with AuthError")
		}
		return groqClient
	}
	return speechClient
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			service.QueueSessions: 1,
		},
		LogLevel: asynqLogLevel,
	})
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
