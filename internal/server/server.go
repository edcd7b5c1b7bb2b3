// Package server contains the HTTP and WebSocket handlers of the messaging API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "helphub/docs" // swagger docs
	"helphub/internal/bootstrap"
	"helphub/internal/config"
	"helphub/internal/database"
	"helphub/internal/featureflags"
	"helphub/internal/middleware"
	"helphub/internal/models"
	"helphub/internal/notifications"
	"helphub/internal/repository"
	"helphub/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const defaultAllowedOrigins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	stream         *notifications.MessageStream
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	verifier     *middleware.TokenVerifier
	featureFlags *featureflags.Manager

	userRepo         repository.UserRepository
	messageRepo      repository.MessageRepository
	notificationRepo repository.NotificationRepository

	hub                 *notifications.RoomHub
	chatService         *service.ChatService
	notificationService *service.NotificationService
}

// Option customises a Server built by NewServerWithDeps.
type Option func(*Server)

// WithMessageStream appends stored messages to a JetStream stream.
func WithMessageStream(ms *notifications.MessageStream) Option {
	return func(s *Server) { s.stream = ms }
}

// NewServer opens the database, Redis and the optional message stream, then
// builds a server on top of them.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return nil, fmt.Errorf("runtime init failed: %w", err)
	}
	var opts []Option
	if rt.Stream != nil {
		opts = append(opts, WithMessageStream(rt.Stream))
	}
	return NewServerWithDeps(cfg, rt.DB, rt.Redis, opts...)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Tests and the bootstrap layer use it; rdb may be nil.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, rdb *redis.Client, opts ...Option) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("server requires a config and a database")
	}

	s := &Server{
		config:           cfg,
		db:               db,
		redis:            rdb,
		promMiddleware:   middleware.InitMetrics("helphub-api"),
		verifier:         middleware.NewTokenVerifier(cfg),
		featureFlags:     featureflags.NewManager(cfg.FeatureFlags),
		userRepo:         repository.NewUserRepository(db, rdb),
		messageRepo:      repository.NewMessageRepository(db),
		notificationRepo: repository.NewNotificationRepository(db),
		hub:              notifications.NewRoomHub(rdb),
	}
	for _, opt := range opts {
		opt(s)
	}
	middleware.Logger.Info("feature flags loaded", slog.Any("flags", s.featureFlags))

	s.notificationService = service.NewNotificationService(s.notificationRepo, rdb)

	chatOpts := []service.ChatOption{
		service.WithCache(rdb),
		service.WithPresence(s.hub),
	}
	if s.stream != nil {
		chatOpts = append(chatOpts, service.WithMessageSink(s.stream))
	}
	s.chatService = service.NewChatService(s.messageRepo, s.userRepo, s.notificationService, chatOpts...)

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	if s.config.TracingEnabled {
		app.Use(middleware.Tracing())
	}

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = defaultAllowedOrigins
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	// 100 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewRateLimitError("Too many requests, please try again later."))
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Get("/swagger/*", swagger.HandlerDefault)
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "HelpHub Messaging Metrics",
	}))

	// REST handlers run under a deadline that also ends on shutdown
	rest := middleware.RequestContext(s.config.RequestDeadline(), s.baseContext)

	chat := api.Group("/chat", rest, s.AuthRequired())
	chat.Post("/send", middleware.RateLimit(s.redis, 15, time.Minute, "send_chat"), s.SendMessage)
	chat.Get("/conversations", s.GetConversations)
	chat.Get("/conversation/:userId", s.GetConversation)
	chat.Put("/read/:userId", s.MarkRead)
	chat.Get("/unread-count", s.GetUnreadCount)
	chat.Delete("/message/:messageId", s.DeleteMessage)
	chat.Get("/search", middleware.RateLimit(s.redis, 30, time.Minute, "chat_search"), s.SearchMessages)
	chat.Get("/features", s.GetFeatureFlags)

	inbox := api.Group("/notifications", rest, s.AuthRequired())
	inbox.Get("/", s.GetNotifications)
	inbox.Put("/read-all", s.MarkAllNotificationsRead)
	inbox.Get("/unread-count", s.GetNotificationUnreadCount)

	// each ws route authenticates exactly once; a ticket is consumed on first use
	ws := api.Group("/ws")
	ws.Post("/ticket", rest, s.AuthRequired(), s.IssueWSTicket)
	ws.Get("/chat", s.AuthRequired(), upgradeRequired, s.WebSocketChatHandler())
}

// LivenessCheck reports that the process is serving requests.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports the health of the database, Redis and the stream.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis is optional: without it the gateway runs single-instance
	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	streamStatus := "disabled"
	if s.stream != nil {
		streamStatus = "healthy"
		if !s.stream.Connected() {
			streamStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
			"stream":   streamStatus,
		},
		"time": time.Now(),
	})
}

// NewApp builds the Fiber app with middleware and routes but does not listen.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "HelpHub Messaging API",
		ErrorHandler: errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start wires the hub to Redis and serves until the app is shut down.
func (s *Server) Start() error {
	s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())
	s.app = s.NewApp()

	go func() {
		if err := s.hub.StartWiring(s.shutdownCtx); err != nil {
			middleware.Logger.Error("failed to start hub wiring",
				slog.String("hub", s.hub.Name()),
				slog.String("error", err.Error()),
			)
		}
	}()

	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down hub",
			slog.String("hub", s.hub.Name()),
			slog.String("error", err.Error()),
		)
	}

	if s.stream != nil {
		s.stream.Close()
	}

	if err := database.Close(s.db); err != nil {
		middleware.Logger.Error("error closing database", slog.String("error", err.Error()))
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", err.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}

// baseContext is the parent of every websocket session context.
func (s *Server) baseContext() context.Context {
	if s.shutdownCtx != nil {
		return s.shutdownCtx
	}
	return context.Background()
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return models.RespondWithError(c, fe.Code, &models.AppError{
			Code:    codeForStatus(fe.Code),
			Message: fe.Message,
		})
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}
