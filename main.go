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
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bourraOmar/Tirelire/internal/auth"
	"github.com/bourraOmar/Tirelire/internal/config"
	"github.com/bourraOmar/Tirelire/internal/handlers"
	"github.com/bourraOmar/Tirelire/internal/imagesource"
	"github.com/bourraOmar/Tirelire/internal/logging"
	"github.com/bourraOmar/Tirelire/internal/recognizer"
	"github.com/bourraOmar/Tirelire/internal/repository"
	"github.com/bourraOmar/Tirelire/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg := config.MustLoad()

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	db := initDatabase(ctx, cfg, logger)
	kycRepo := repository.NewKycRepository(db, logger)
	if err := kycRepo.AutoMigrate(ctx); err != nil {
		logger.Fatal("kyc auto migrate failed", zap.Error(err))
	}
	groupRepo := repository.NewGroupRepository(db, logger)
	if err := groupRepo.AutoMigrate(ctx); err != nil {
		logger.Fatal("group auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)

	host := recognizer.NewHost(cfg.Face.ModelsPath, logger)
	defer host.Close()
	engine := recognizer.NewEngine(host, cfg.Face.MatchThreshold, logger)

	// Warm the model so the first verification request does not pay the
	// load cost. A failure here is not fatal: the host retries on use.
	go func() {
		warmCtx, warmCancel := context.WithTimeout(context.Background(), time.Minute)
		defer warmCancel()
		if _, err := host.Ensure(warmCtx); err != nil {
			logger.Warn("model warm-up failed, will retry on first request", zap.Error(err))
		}
	}()

	resolver := imagesource.NewResolver(cfg.Face.FetchTimeout, logger)
	cache := usecase.NewRedisCache(redisClient)
	kycUC := usecase.NewKycUseCase(kycRepo, cache, resolver, engine, logger)
	groupUC := usecase.NewGroupUseCase(groupRepo, kycUC, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	authMiddleware := auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	handlers.RegisterRoutes(r, kycUC, groupUC, authMiddleware)

	server := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: r,
	}

	logger.Info("Tirelire API listening", zap.String("addr", server.Addr))
	if err := serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConnections)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
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
