package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-signaling/internal/audit"
	"call-signaling/internal/auth"
	"call-signaling/internal/config"
	"call-signaling/internal/db/migrate"
	"call-signaling/internal/presence"
	"call-signaling/internal/reporting"
	"call-signaling/internal/signaling"
	"call-signaling/internal/transport"
	"call-signaling/pkg/logger"
	"call-signaling/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

// deps holds the optional backends. Nil fields mean the feature is off.
type deps struct {
	db   *sql.DB
	rdb  *redis.Client
	auth *auth.Manager
}

func (d deps) close() {
	if d.db != nil {
		_ = d.db.Close()
	}
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
}

func openDeps(ctx context.Context, cfg config.Config, log *slog.Logger) (deps, error) {
	var d deps

	if cfg.DatabaseEnabled() {
		if cfg.DB.Migrate {
			if err := migrate.Run(cfg.PostgresURL(), "up"); err != nil {
				return d, err
			}
			log.Info("migrations applied")
		}
		db, err := utils.OpenPostgres(ctx, utils.DriverPGX, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return d, err
		}
		d.db = db
	} else {
		log.Warn("DB_HOST not set; call history is kept in memory")
	}

	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			d.close()
			return deps{}, err
		}
		d.rdb = rdb
	}

	if cfg.AuthEnabled() {
		m, err := auth.NewManager(cfg.Auth)
		if err != nil {
			d.close()
			return deps{}, err
		}
		d.auth = m
	} else {
		log.Warn("JWT_SECRET not set; admin API disabled")
	}

	return d, nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	d, err := openDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.close()

	var history interface {
		audit.Repository
		reporting.Repository
	}
	if d.db != nil {
		history = &audit.PostgresRepo{DB: d.db}
	} else {
		history = audit.NewMemoryRepo()
	}
	recorder := audit.NewRecorder(audit.NewService(history), log, 0)

	opts := signaling.Options{
		RingTimeout:  cfg.Call.RingTimeout,
		ConnectDelay: cfg.Call.ConnectDelay,
		RejectBusy:   cfg.Call.RejectBusy,
		Logger:       log,
		Transitions:  recorder,
	}

	var mirror *presence.RedisMirror
	var limiter transport.ConnLimiter
	if d.rdb != nil {
		mirror = presence.NewRedisMirror(d.rdb, log, presence.MirrorOptions{})
		opts.Presence = mirror
		if cfg.WebSocket.MaxConnsPerIP > 0 {
			limiter = transport.RedisConnCap{RDB: d.rdb, Limit: cfg.WebSocket.MaxConnsPerIP}
		}
	}

	coord := signaling.New(opts)
	ws := transport.NewServer(transport.Config{
		MaxMessageBytes:   cfg.WebSocket.MaxMessageBytes,
		MessagesPerSecond: cfg.WebSocket.MessagesPerSecond,
		PingInterval:      cfg.WebSocket.PingInterval,
		PongWait:          cfg.WebSocket.PongWait,
		WriteTimeout:      cfg.WebSocket.WriteTimeout,
		SendQueue:         cfg.WebSocket.SendQueue,
		AllowedOrigins:    cfg.WebSocket.AllowedOrigins,
	}, coord, limiter, log)

	rd := routerDeps{
		cfg:     cfg,
		log:     log,
		coord:   coord,
		ws:      ws,
		auth:    d.auth,
		reports: reporting.NewService(history),
	}
	if mirror != nil {
		rd.presence = mirror
	}
	r := newRouter(rd)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Workers outlive the HTTP server so in-flight disconnects still reach
	// the coordinator, recorder and mirror during shutdown.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var workers errgroup.Group
	workers.Go(func() error { return coord.Run(workerCtx) })
	workers.Go(func() error { return recorder.Run(workerCtx) })
	if mirror != nil {
		workers.Go(func() error { return mirror.Run(workerCtx) })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		// Hijacked sockets are not covered by srv.Shutdown.
		if err := ws.Shutdown(shutdownCtx); err != nil {
			log.Error("websocket drain failed", "err", err)
		}
		return nil
	})

	err = g.Wait()
	stopWorkers()
	if werr := workers.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}
