package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nudge-core/api"
	"nudge-core/domain"
	"nudge-core/ingest"
	"nudge-core/storage"
	nsync "nudge-core/sync"
	"nudge-core/toolcall"
)

var (
	dbPath      string
	mailboxPath string
)

func main() {
	home, _ := os.UserHomeDir()
	defaultDir := filepath.Join(home, ".nudge")

	rootCmd := &cobra.Command{
		Use:   "nudged",
		Short: "Task backend with voice-dump ingestion and cross-device sync",
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", filepath.Join(defaultDir, "tasks.db"), "database path")
	rootCmd.PersistentFlags().StringVar(&mailboxPath, "mailbox", filepath.Join(defaultDir, "mailbox.json"), "file mailbox path")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *log.Logger {
	logger := log.New()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

func openRepo(ctx context.Context, logger *log.Logger) (*domain.Repository, func(), error) {
	store, err := storage.Open(dbPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}
	closeStore := func() { _ = store.Close() }

	var st domain.Storage = store
	if rc := redisClient(logger); rc != nil {
		st = storage.NewCache(store, rc, cacheTTL())
	}
	return domain.NewRepository(ctx, st, logger), closeStore, nil
}

func redisClient(logger *log.Logger) *redis.Client {
	connStr := os.Getenv("REDIS_CONNECTION_STRING")
	if connStr == "" {
		return nil
	}
	opts, err := redis.ParseURL(connStr)
	if err != nil {
		logger.WithError(err).Warn("invalid redis connection string, continuing without redis")
		return nil
	}
	return redis.NewClient(opts)
}

func cacheTTL() time.Duration {
	ttl := 15 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			ttl = d
		}
	}
	return ttl
}

func quotasFromEnv() ingest.Quotas {
	return ingest.Quotas{
		MaxDailyBrainDumps: envInt("MAX_DAILY_BRAIN_DUMPS", 0),
		MaxSavedItems:      envInt("MAX_SAVED_ITEMS", 0),
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Fatalf("invalid %s: %s", key, v)
	}
	return n
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %s", key, v)
	}
	return d
}

func buildMailbox() ingest.Mailbox {
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	queueName := os.Getenv("MAILBOX_QUEUE")
	if connStr != "" && queueName != "" {
		box, err := ingest.NewQueueMailboxFromConnectionString(connStr, queueName)
		if err != nil {
			log.Fatalf("mailbox queue: %v", err)
		}
		return box
	}
	return ingest.NewFileMailbox(mailboxPath)
}

func buildDeduper(logger *log.Logger) ingest.Deduper {
	if rc := redisClient(logger); rc != nil {
		return ingest.NewRedisDeduper(rc, envDur("DEDUPER_TTL", 24*time.Hour))
	}
	return ingest.NewMemoryDeduper()
}

func buildAuth() api.Authenticator {
	switch os.Getenv("AUTH_MODE") {
	case "", "none":
		return api.AllowAll{DeviceID: os.Getenv("DEVICE_ID")}
	case "hs256":
		secret := os.Getenv("AUTH_SHARED_SECRET")
		if secret == "" {
			log.Fatal("AUTH_SHARED_SECRET must be set when AUTH_MODE=hs256")
		}
		return api.NewSharedSecretAuth([]byte(secret), os.Getenv("AUTH_AUDIENCE"), os.Getenv("AUTH_ISSUER"))
	case "jwks":
		jwksURL := os.Getenv("AUTH_JWKS_URL")
		if jwksURL == "" {
			log.Fatal("AUTH_JWKS_URL must be set when AUTH_MODE=jwks")
		}
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		return api.NewJWKSAuth(jwks, os.Getenv("AUTH_AUDIENCE"), os.Getenv("AUTH_ISSUER"))
	default:
		log.Fatalf("unsupported AUTH_MODE: %s", os.Getenv("AUTH_MODE"))
		return nil
	}
}

func buildSyncer(local nsync.Local, logger *log.Logger) *nsync.Trigger {
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tableName := os.Getenv("SYNC_TABLE")
	if connStr == "" || tableName == "" {
		return nil
	}
	partition := os.Getenv("SYNC_PARTITION")
	if partition == "" {
		partition = "default"
	}
	remote, err := nsync.NewTableRemoteFromConnectionString(connStr, tableName, partition, logger)
	if err != nil {
		log.Fatalf("sync remote: %v", err)
	}
	rec := nsync.NewReconciler(local, remote, logger)
	return nsync.NewTrigger(rec,
		envDur("SYNC_DEBOUNCE", 2*time.Second),
		envDur("SYNC_INTERVAL", 5*time.Minute),
		logger)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			repo, closeStore, err := openRepo(ctx, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			merger := ingest.NewMerger(repo, ingest.LineExtractor{},
				buildMailbox(), buildDeduper(logger), quotasFromEnv(), logger)

			srv := api.NewServer(repo, merger, nil, buildAuth(), logger)

			// The reconciler reads and writes the repository through the
			// server's locked replica, never the bare repository.
			if trigger := buildSyncer(srv.SyncLocal(), logger); trigger != nil {
				srv.SetSyncer(trigger)
				go trigger.Run(ctx)
			}

			e := echo.New()
			e.HideBanner = true
			e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
				AllowOrigins: []string{"*"},
				AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
			}))
			e.Use(api.RequestDecompression())

			srv.Register(e)
			go srv.RunSweeper(ctx, envDur("SWEEP_INTERVAL", time.Minute))

			listenAddr := ":8080"
			if val, ok := os.LookupEnv("PORT"); ok {
				listenAddr = ":" + val
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = e.Shutdown(shutdownCtx)
			}()

			if err := e.Start(listenAddr); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tool-call surface over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			repo, closeStore, err := openRepo(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer closeStore()

			return server.ServeStdio(toolcall.NewServer(repo).MCPServer())
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Resurface snoozed tasks whose wake-up time has passed, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			repo, closeStore, err := openRepo(ctx, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := repo.ResurfaceExpiredSnoozes(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("resurfaced %d task(s)\n", n)
			return nil
		},
	}
}
