package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"doccrawl/internal/config"
	"doccrawl/internal/crawl"
	"doccrawl/internal/metrics"
)

// SessionStore is the persisted view of crawl sessions. *store.Store
// implements it.
type SessionStore interface {
	GetSnapshot(ctx context.Context, id string) (crawl.Snapshot, error)
	ListSessions(ctx context.Context, limit int) ([]crawl.Snapshot, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators shared by all handlers. Store and Redis are
// optional.
type Deps struct {
	Manager *crawl.Manager
	Store   SessionStore
	Redis   *redis.Client
}

type Server struct {
	app    *fiber.App
	config *config.Config
	logger *slog.Logger
}

func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	// Inject config, manager and store into context for handlers
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("manager", deps.Manager)
		if deps.Store != nil {
			c.Locals("store", deps.Store)
		}
		return c.Next()
	})

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		c.Locals("logger", logger)
		c.Set("X-Request-Id", reqID)

		err := c.Next()
		if err != nil {
			// Run the error handler now so the logged status is the final one.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
			err = nil
		}

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Route().Path

		metrics.RecordRequest(method, path, status, latency.Milliseconds())
		logger.Info("request",
			"request_id", reqID,
			"method", method,
			"path", c.Path(),
			"status", status,
			"latency_ms", latency.Milliseconds(),
		)

		return err
	})

	app.Get("/healthz", healthHandler(deps))

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("txt")
		return c.SendString(metrics.Export())
	})

	var rateMw fiber.Handler
	if deps.Redis != nil && cfg.RateLimit.DefaultPerMinute > 0 {
		rateMw = rateLimitMiddleware(cfg, deps.Redis)
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}

	v1 := app.Group("/v1", rateMw)
	registerV1Routes(v1)

	return &Server{
		app:    app,
		config: cfg,
		logger: logger,
	}
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func registerV1Routes(group fiber.Router) {
	group.Post("/crawl", crawlHandler)
	group.Get("/crawl", crawlListHandler)
	group.Get("/crawl/:id", crawlStatusHandler)
	group.Delete("/crawl/:id", crawlForgetHandler)
	group.Post("/crawl/:id/pause", crawlControlHandler(controlPause))
	group.Post("/crawl/:id/resume", crawlControlHandler(controlResume))
	group.Post("/crawl/:id/abort", crawlControlHandler(controlAbort))
	group.Get("/crawl/:id/export", crawlExportHandler)
}

func healthHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		dbStatus := "disabled"
		if deps.Store != nil {
			dbStatus = "ok"
			if err := deps.Store.Ping(ctx); err != nil {
				dbStatus = "error"
			}
		}

		redisStatus := "disabled"
		if deps.Redis != nil {
			redisStatus = "ok"
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			}
		}

		status := "ok"
		code := fiber.StatusOK
		if dbStatus == "error" || redisStatus == "error" {
			status = "error"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"db":     dbStatus,
			"redis":  redisStatus,
		})
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	errCode := "INTERNAL_ERROR"
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
		switch code {
		case fiber.StatusNotFound:
			errCode = "NOT_FOUND"
		case fiber.StatusMethodNotAllowed:
			errCode = "METHOD_NOT_ALLOWED"
		default:
			errCode = "HTTP_ERROR"
		}
	}
	return c.Status(code).JSON(ErrorResponse{
		Success: false,
		Code:    errCode,
		Error:   err.Error(),
	})
}
