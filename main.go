package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/posture-check/internal/auth"
	"github.com/example/posture-check/internal/config"
	"github.com/example/posture-check/internal/grpcclient"
	"github.com/example/posture-check/internal/handlers"
	"github.com/example/posture-check/internal/logging"
	"github.com/example/posture-check/internal/repository"
	"github.com/example/posture-check/internal/session"
	"github.com/example/posture-check/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewSessionRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)

	estimator, conn, err := grpcclient.DialPoseEstimator(ctx, cfg.PoseEstimatorAddr, logger)
	if err != nil {
		logger.Fatal("failed to connect to pose estimator", zap.Error(err))
	}
	defer conn.Close()

	sessions := session.NewManager(logger)
	uc := usecase.NewMonitoringUseCase(sessions, repo, usecase.NewRedisCache(redisClient), estimator, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	limiter := auth.NewRateLimiter(cfg.FrameRateLimit, cfg.FrameRateBurst)
	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience), limiter.Middleware())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc := &lifecycle{
		server:          server,
		sessions:        sessions,
		finalize:        uc.FinalizeSession,
		reapInterval:    cfg.SessionReapInterval,
		idleTimeout:     cfg.SessionIdleTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}
	logger.Info("posture API listening", zap.String("addr", cfg.HTTPAddr))
	if err := lc.run(); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
	logger.Info("posture API stopped")
}

// lifecycle runs the HTTP server next to the idle-session reaper and closes
// out whatever sessions are still live once the server stops.
type lifecycle struct {
	server          *http.Server
	sessions        *session.Manager
	finalize        func(monitor *session.Monitor, reason string)
	reapInterval    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	logger          *zap.Logger

	listener net.Listener
	signalCh <-chan os.Signal
}

func (l *lifecycle) run() error {
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer stopRun()
		return serveUntilSignal(l.server, l.shutdownTimeout, l.logger, l.listener, l.signalCh)
	})
	g.Go(func() error {
		return l.sessions.RunReaper(gctx, l.reapInterval, l.idleTimeout, func(m *session.Monitor) {
			l.finalize(m, "idle")
		})
	})

	err := g.Wait()
	for _, m := range l.sessions.StopAll() {
		l.finalize(m, "shutdown")
	}
	return err
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveUntilSignal(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
