package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sharetube/syncserver/internal/controller"
	"github.com/sharetube/syncserver/internal/repository/connection/inmemory"
	roomrepo "github.com/sharetube/syncserver/internal/repository/room"
	"github.com/sharetube/syncserver/internal/repository/room/redis"
	"github.com/sharetube/syncserver/internal/repository/room/sqlite"
	"github.com/sharetube/syncserver/internal/service/room"
	"github.com/sharetube/syncserver/pkg/ctxlogger"
	"github.com/sharetube/syncserver/pkg/redisclient"
	"golang.org/x/sync/errgroup"
)

const (
	StoreRedis  = "redis"
	StoreSqlite = "sqlite"
)

const shutdownTimeout = 30 * time.Second

type AppConfig struct {
	Secret          string        `json:"-"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	LogLevel        string        `json:"log_level"`
	Store           string        `json:"store"`
	SqlitePath      string        `json:"sqlite_path"`
	RedisPort       int           `json:"redis_port"`
	RedisHost       string        `json:"redis_host"`
	RedisPassword   string        `json:"-"`
	RoomTTL         time.Duration `json:"room_ttl"`
	SendBuffer      int           `json:"send_buffer"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ReadLimit       int64         `json:"read_limit"`
	HostOnlyControl bool          `json:"host_only_control"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Secret == "" {
		return errors.New("secret must not be empty")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be in range 1-65535, got %d", cfg.Port)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	switch cfg.Store {
	case StoreRedis:
		if cfg.RoomTTL <= 0 {
			return errors.New("room ttl must be greater than 0")
		}
	case StoreSqlite:
		if cfg.SqlitePath == "" {
			return errors.New("sqlite path must not be empty")
		}
	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}
	if cfg.SendBuffer < 1 {
		return errors.New("send buffer must be greater than 0")
	}
	if cfg.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if cfg.ReadLimit < 1 {
		return errors.New("read limit must be greater than 0")
	}

	return nil
}

func newLogger(cfg *AppConfig) *slog.Logger {
	logLevel := slog.LevelInfo
	// validated by Validate
	_ = logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel)))

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(&h)
}

// openStore returns the configured room store and a func releasing its resources.
func openStore(ctx context.Context, cfg *AppConfig, logger *slog.Logger) (roomrepo.Store, func() error, error) {
	switch cfg.Store {
	case StoreSqlite:
		repo, db, err := sqlite.Open(ctx, cfg.SqlitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return repo, db.Close, nil
	default:
		rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
			Port:     cfg.RedisPort,
			Host:     cfg.RedisHost,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		return redis.NewRepo(rc, cfg.RoomTTL, logger), rc.Close, nil
	}
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	roomRepo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	connRepo := inmemory.NewRepo(logger)
	roomService := room.NewService(roomRepo, connRepo, &room.Config{
		Secret:          cfg.Secret,
		HostOnlyControl: cfg.HostOnlyControl,
	}, logger)
	ctrl := controller.NewController(roomService, logger, controller.Config{
		Secret:       cfg.Secret,
		SendBuffer:   cfg.SendBuffer,
		WriteTimeout: cfg.WriteTimeout,
		ReadLimit:    cfg.ReadLimit,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           ctrl.GetMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(gCtx, "starting server", "address", server.Addr, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		// hijacked websocket connections are not tracked by Shutdown, and their handlers
		// still write to the store while disconnecting
		connRepo.Close()
		err = errors.Join(err, ctrl.Shutdown(shutdownCtx))
		if err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}
