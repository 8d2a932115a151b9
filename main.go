package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"Companion/middleware"
	"Companion/pkg/cache"
	"Companion/pkg/chat"
	"Companion/pkg/config"
	"Companion/pkg/database"
	"Companion/pkg/logger"
	"Companion/pkg/moodlog"
	"Companion/pkg/sentiment"
	"Companion/pkg/services"
	"Companion/pkg/store"
	"Companion/routes"
)

var rootCmd = &cobra.Command{
	Use:          "companion",
	Short:        "Mental health companion chat backend",
	SilenceUsage: true,
	RunE:         serve,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	RunE:  serve,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck
		db, err := database.Open(cfg.Database, log)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Info("migration complete", zap.String("driver", cfg.Database.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	st, closeStore, err := newSessionStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	tagger := newTagger(cfg, log)
	generator, err := newGenerator(ctx, cfg, log)
	if err != nil {
		return err
	}

	turns := cache.New(cfg.Chat.CacheMaxItems)
	turns.StartJanitor(ctx, time.Minute)
	journal := moodlog.New(db, tagger, log)

	svc := chat.NewService(st, tagger, generator, chat.Options{
		Logger:           log,
		TaggerTimeout:    cfg.Chat.TaggerTimeout,
		GeneratorTimeout: cfg.Chat.GeneratorTimeout,
		HistoryLimit:     cfg.Chat.HistoryLimit,
		Cache:            turns,
		CacheTTL:         cfg.Chat.CacheTTL,
		Journal:          journal,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Deps{
		JWTSecret: cfg.JWTSecret,
		Chat:      svc,
		Mood:      journal,
		Store:     st,
		Limiter:   middleware.NewRateLimiter(cfg.Limits.RateLimitWindow, cfg.Limits.RateLimitCapacity),
		Guard:     middleware.NewConcurrencyGuard(cfg.Limits.UserConcurrencyLimit),
		Logger:    log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("server starting",
		zap.String("addr", srv.Addr),
		zap.String("env", cfg.AppEnv),
		zap.String("session_store", cfg.Chat.SessionStore),
		zap.String("sentiment", cfg.Chat.SentimentBackend),
		zap.String("replies", cfg.Chat.ReplyBackend),
	)
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func newSessionStore(ctx context.Context, cfg *config.Config, db *gorm.DB) (store.SessionStore, func(), error) {
	switch cfg.Chat.SessionStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		st := store.NewRedisStore(rdb)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := st.Ping(pingCtx); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return st, func() { _ = rdb.Close() }, nil
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	default:
		return store.NewSQLStore(db), func() {}, nil
	}
}

func newTagger(cfg *config.Config, log *zap.Logger) sentiment.Tagger {
	if cfg.Chat.SentimentBackend == "openai" {
		if cfg.OpenAI.APIKey == "" {
			log.Warn("SENTIMENT_BACKEND=openai without OPENAI_API_KEY, using keyword tagger")
			return sentiment.NewKeywordTagger()
		}
		return sentiment.NewLLMTagger(sentiment.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL), cfg.OpenAI.Model, log)
	}
	return sentiment.NewKeywordTagger()
}

func newGenerator(ctx context.Context, cfg *config.Config, log *zap.Logger) (services.ReplyGenerator, error) {
	rules := services.NewRuleGenerator(nil)
	switch cfg.Chat.ReplyBackend {
	case "gemini":
		if !cfg.Gemini.Enabled {
			log.Info("IS_GEMINI_ENABLED is off, using rule based replies")
			return rules, nil
		}
		client, err := services.NewGeminiClient(ctx, cfg.Gemini.APIKey)
		if err != nil {
			return nil, err
		}
		gemini := services.NewGeminiGenerator(client.Models, services.GeminiConfig{
			Enabled:      true,
			Model:        cfg.Gemini.Model,
			HistoryLimit: cfg.Chat.HistoryLimit,
		}, log)
		return services.WithFallback(gemini, rules, log), nil
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, errors.New("REPLY_BACKEND=openai requires OPENAI_API_KEY")
		}
		oa := services.NewOpenAIGenerator(sentiment.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL), services.OpenAIConfig{
			Model:        cfg.OpenAI.Model,
			HistoryLimit: cfg.Chat.HistoryLimit,
		}, log)
		return services.WithFallback(oa, rules, log), nil
	}
	return rules, nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
