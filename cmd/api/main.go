package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cucchi10/CouponManager/internal/cache"
	"github.com/cucchi10/CouponManager/internal/config"
	"github.com/cucchi10/CouponManager/internal/handler"
	"github.com/cucchi10/CouponManager/internal/repository"
	"github.com/cucchi10/CouponManager/internal/service"
	"github.com/cucchi10/CouponManager/internal/validator"
	"github.com/cucchi10/CouponManager/pkg/database"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize zerolog based on configuration
	initLogger(cfg)

	// Create context for startup
	ctx := context.Background()

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Initialize the cache plane. The service tolerates Redis being
	// down; the database remains the authority.
	rdb := database.NewRedis(ctx, database.RedisOptions{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  time.Duration(cfg.Redis.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.Redis.ReadTimeout) * time.Second,
	})
	cachePlane := cache.New(rdb)

	// Initialize Fiber with production-ready configuration
	app := fiber.New(fiber.Config{
		AppName:      "Coupon Manager",
		ReadTimeout:  30 * time.Second,  // Max time to read request
		WriteTimeout: 30 * time.Second,  // Max time to write response
		IdleTimeout:  120 * time.Second, // Max time for keep-alive connections
		BodyLimit:    2 * 1024 * 1024,   // Bulk code uploads fit well inside 2MB
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New()) // Adds X-Request-ID header to all requests
	app.Use(logger.New())

	// Initialize validator
	validate := validator.New()

	// Initialize components (layered architecture)
	bookRepo := repository.NewBookRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	assignRepo := repository.NewAssignmentRepository(pool)

	bookService := service.NewBookService(pool, bookRepo, couponRepo)
	couponService := service.NewCouponService(pool, cachePlane, bookRepo, couponRepo, assignRepo, lockBounds(cfg))

	bookHandler := handler.NewBookHandler(bookService, validate)
	couponHandler := handler.NewCouponHandler(couponService, validate)
	healthHandler := handler.NewHealthHandler(pool, redisPinger{rdb})
	app.Get("/health", healthHandler.Check)

	// Book routes
	app.Post("/coupon-books", bookHandler.CreateBook)
	app.Get("/coupon-books", bookHandler.ListBooks)
	app.Get("/coupon-books/:id", bookHandler.GetBook)
	app.Delete("/coupon-books/:id", bookHandler.DeactivateBook)
	app.Get("/coupon-books/:id/coupons", bookHandler.ListCoupons)
	app.Post("/coupon-books/:id/codes", bookHandler.UploadCodes)
	app.Post("/coupon-books/:id/codes/generate", bookHandler.GenerateCodes)

	// Coupon routes. my-coupons and assign/random are registered before
	// the parameterized paths so they don't capture as :code.
	app.Get("/coupons/my-coupons", couponHandler.GetUserCoupons)
	app.Post("/coupons/assign/random", couponHandler.AssignRandom)
	app.Post("/coupons/assign/:code", couponHandler.AssignSpecific)
	app.Post("/coupons/:code/lock", couponHandler.Lock)
	app.Post("/coupons/:code/unlock", couponHandler.Unlock)
	app.Post("/coupons/:code/redeem", couponHandler.Redeem)
	app.Get("/coupons/:code/status", couponHandler.GetStatus)

	// Start server with graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown server (waits for in-flight requests)
	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Close backends AFTER server shutdown (even if shutdown timed out)
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("error closing redis client")
	}
	pool.Close()
	log.Info().Msg("server stopped")
}

func lockBounds(cfg *config.Config) service.LockBounds {
	return service.LockBounds{
		Min:     time.Duration(cfg.Lock.MinSeconds) * time.Second,
		Max:     time.Duration(cfg.Lock.MaxSeconds) * time.Second,
		Default: time.Duration(cfg.Lock.DefaultSeconds) * time.Second,
		Redeem:  time.Duration(cfg.Lock.RedeemSeconds) * time.Second,
		Dedup:   time.Duration(cfg.Lock.DedupSeconds) * time.Second,
	}
}

// redisPinger adapts the go-redis status command to the health probe.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Log.Pretty {
		// Human-readable output for development
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
