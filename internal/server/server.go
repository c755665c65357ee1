// Package server contains the HTTP and WebSocket handlers for the campus feed API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"campusfeed/internal/cache"
	"campusfeed/internal/config"
	"campusfeed/internal/database"
	"campusfeed/internal/featureflags"
	"campusfeed/internal/middleware"
	"campusfeed/internal/models"
	"campusfeed/internal/notifications"
	"campusfeed/internal/observability"
	"campusfeed/internal/repository"
	"campusfeed/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	validate       *validator.Validate
	liveLog        *observability.LiveLogger

	broker         notifications.Broker
	featureFlags   *featureflags.Manager
	authz          *service.Authorizer
	directory      *service.Directory
	feedService    *service.FeedService
	commentService *service.CommentService
	reactions      *service.ReactionService
	profileService *service.ProfileService
	reconciler     *service.Reconciler
}

// NewServer connects to the database and, when configured, Redis, then
// builds a Server over them.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		redisClient, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			// The feed keeps working without Redis; live updates stay in-process.
			observability.GlobalLogger.Warn("redis unavailable, using in-process broker", slog.String("error", err.Error()))
			redisClient = nil
		}
	}

	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	maxAttempts := cfg.TxMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = repository.DefaultMaxAttempts
	}
	tx := repository.NewTransactor(db, maxAttempts)

	userRepo := repository.NewUserRepository(tx)
	postRepo := repository.NewPostRepository(tx)
	commentRepo := repository.NewCommentRepository(tx)
	reactionRepo := repository.NewReactionRepository(tx)

	var broker notifications.Broker = notifications.NewMemoryBroker()
	if redisClient != nil {
		broker = notifications.NewRedisBroker(redisClient)
	}
	staleAfter := cfg.SubscriptionStaleAfter
	if staleAfter < 1 {
		staleAfter = notifications.DefaultStaleAfter
	}
	live := service.Live{Broker: broker, StaleAfter: staleAfter}

	flags := featureflags.NewManager(cfg.FeatureFlags)
	authz := service.NewAuthorizer(userRepo, flags)
	directory := service.NewDirectory(userRepo, cache.NewStore(redisClient))
	reactions := service.NewReactionService(reactionRepo, postRepo, commentRepo, authz, directory, live)

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("campusfeed-api"),
		validate:       validator.New(),
		liveLog:        observability.NewLiveLogger("websocket"),
		broker:         broker,
		featureFlags:   flags,
		authz:          authz,
		directory:      directory,
		feedService:    service.NewFeedService(postRepo, reactionRepo, reactions, authz, live),
		commentService: service.NewCommentService(commentRepo, postRepo, authz, live),
		reactions:      reactions,
		profileService: service.NewProfileService(userRepo, authz, directory),
		reconciler:     service.NewReconciler(repository.NewReconcileRepository(tx), live, cfg.ReconcileInterval()),
	}
	s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())
	return s, nil
}

// App returns the configured Fiber app, building it on first use.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName: "Campus Feed API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// Reconciler exposes the background sweep so the caller can run its loop.
func (s *Server) Reconciler() *service.Reconciler {
	return s.reconciler
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
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

	api := app.Group("/api", middleware.AuthRequired(s.config.JWTSecret), middleware.ContextMiddleware())

	writes := middleware.RateLimit(s.redis, s.config.WriteRateLimit, time.Minute, "writes", middleware.FailOpen)

	api.Get("/feed", s.GetFeed)

	posts := api.Group("/posts")
	posts.Post("/", writes, s.CreatePost)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	posts.Get("/:id/comments", s.GetComments)
	posts.Post("/:id/comments", writes, s.CreateComment)
	posts.Get("/:id/thread", s.GetThread)
	posts.Get("/:id/reactions", s.GetPostReactions)
	posts.Post("/:id/reactions", writes, s.ReactToPost)
	posts.Put("/:id/pin", s.PinPost)
	posts.Get("/:id", s.GetPost)
	posts.Put("/:id", s.UpdatePost)
	posts.Delete("/:id", s.DeletePost)

	comments := api.Group("/comments")
	comments.Get("/:commentId/reactions", s.GetCommentReactions)
	comments.Post("/:commentId/reactions", writes, s.ReactToComment)
	comments.Put("/:commentId", s.UpdateComment)
	comments.Delete("/:commentId", s.DeleteComment)

	profile := api.Group("/profile")
	profile.Put("/info", s.UpdateProfileInfo)
	profile.Put("/bio", s.UpdateBio)
	profile.Put("/photo", s.UpdateProfilePhoto)
	profile.Put("/cover", s.UpdateCoverPhoto)

	users := api.Group("/users")
	users.Get("/:id", s.GetUser)

	api.Get("/feature-flags", s.GetFeatureFlags)

	admin := api.Group("/admin", s.AdminRequired())
	admin.Post("/reconcile", s.RunReconcile)

	ws := app.Group("/ws", middleware.WebSocketAuthRequired(s.config.JWTSecret), middleware.ContextMiddleware())
	ws.Get("/live", s.LiveHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional, so
// only a configured but unreachable Redis fails the check.
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

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// AdminRequired returns middleware that rejects non-admin users with 403.
// Must be placed after AuthRequired so that userID is available in locals.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := s.authz.Actor(c.UserContext(), currentUserID(c))
		if err != nil {
			return models.RespondWithAppError(c, err)
		}
		if !actor.IsAdmin() {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewUnauthorizedError("Admin access required"))
		}
		return c.Next()
	}
}

// Start starts the server
func (s *Server) Start() error {
	app := s.App()
	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Ends every live subscription opened by websocket sessions.
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
