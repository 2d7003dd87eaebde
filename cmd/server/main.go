package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ieraasyl/StorefrontAuth/internal/database"
	"github.com/ieraasyl/StorefrontAuth/internal/handlers"
	"github.com/ieraasyl/StorefrontAuth/internal/middleware"
	"github.com/ieraasyl/StorefrontAuth/internal/services"
	"github.com/ieraasyl/StorefrontAuth/pkg/cache"
	"github.com/ieraasyl/StorefrontAuth/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// rememberSweepInterval is how often expired remember-me tokens are purged.
const rememberSweepInterval = time.Hour

func main() {
	// Console output until the configuration says otherwise
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.Server)

	log.Info().
		Str("env", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Bool("google_login", cfg.Google.Enabled()).
		Msg("Starting storefront auth service")

	if err := database.RunMigrations(cfg.Database.URL()); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	postgresDB, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer postgresDB.Close()
	postgresDB.SetQueryObserver(middleware.RecordDBQuery)

	redisDB, err := database.NewRedisDB(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisDB.Close()
	redisDB.SetQueryObserver(middleware.RecordDBQuery)

	cacheInstance := cache.NewCache(redisDB.Client())

	// Services
	var throttle *services.LoginThrottle
	if cfg.Security.MaxLoginAttempts > 0 {
		throttle = services.NewLoginThrottle(cacheInstance, cfg.Security.MaxLoginAttempts, cfg.Security.LockoutDuration)
	}

	authService := services.NewAuthService(services.AuthDeps{
		Users:                    postgresDB,
		Hasher:                   services.NewPasswordHasher(services.DefaultArgon2Params()),
		Sessions:                 services.NewSessionManager(redisDB, cfg.Session, middleware.IncrementSessionRotations),
		Activity:                 services.NewActivityLogger(postgresDB, middleware.IncrementActivityLogFailures),
		Remember:                 services.NewRememberService(postgresDB, cfg.Session.RememberExpiry),
		Google:                   services.NewGoogleVerifier(cfg.Google),
		Throttle:                 throttle,
		Inputs:                   services.NewInputValidator(cfg.Security.PasswordMinLength),
		RequireEmailVerification: cfg.Security.RequireEmailVerification,
	})

	// Handlers
	isProduction := cfg.Server.IsProduction()
	authHandler := handlers.NewAuthHandler(authService, cfg.Session.CookieName, isProduction)
	healthHandler := handlers.NewHealthHandler(postgresDB, redisDB)

	// Middleware
	credentialLimit, sessionLimit := cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.SessionRequestsPerMinute
	rateLimiter := middleware.NewRateLimiter(redisDB, middleware.ActionLimits{
		string(handlers.ActionRegister):     credentialLimit,
		string(handlers.ActionLogin):        credentialLimit,
		string(handlers.ActionGoogleLogin):  credentialLimit,
		string(handlers.ActionCheckSession): sessionLimit,
		string(handlers.ActionLogout):       sessionLimit,
	}, credentialLimit, cfg.RateLimit.WindowDuration)
	sessionLoader := middleware.NewSessionLoader(authService, cfg.Session.CookieName, isProduction).
		SkipResumeFor(string(handlers.ActionLogout))

	r := chi.NewRouter()

	r.Use(middleware.Logger())
	r.Use(middleware.Recoverer())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", middleware.MetricsHandler())

	// Single action-keyed endpoint; the handler enforces per-action methods
	r.With(rateLimiter.Limit("auth"), sessionLoader.Handler).Handle("/api/auth", authHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sweepRememberTokens(ctx, postgresDB)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down server...")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped gracefully")
}

// setupLogger applies LOG_LEVEL and LOG_FORMAT to the global logger.
// An unknown level falls back to info.
func setupLogger(cfg config.ServerConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// sweepRememberTokens deletes expired remember-me tokens until ctx is done.
// Lookups already reject expired tokens; this only keeps the table small.
func sweepRememberTokens(ctx context.Context, db *database.PostgresDB) {
	ticker := time.NewTicker(rememberSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.DeleteExpiredRememberTokens(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to delete expired remember tokens")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("Expired remember tokens deleted")
			}
		}
	}
}
