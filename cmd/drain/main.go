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

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"volume-drain/internal/config"
	"volume-drain/internal/downloader"
	apphttp "volume-drain/internal/http"
	"volume-drain/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	runID := uuid.NewString()
	runLogger := logger.WithField("run_id", runID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStorage(ctx, cfg, runLogger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	local, err := storage.NewLocalMirror(cfg.Drain.LocalDir)
	if err != nil {
		logger.Fatalf("setup local directory: %v", err)
	}

	manager := downloader.NewManager(downloader.Config{
		RunID:        runID,
		Volume:       cfg.Storage.Volume,
		RemoteFolder: cfg.Drain.RemoteFolder,
		Interval:     cfg.PollInterval(),
		Logger:       runLogger,
	}, store, local)

	if err := manager.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			runLogger.Info("interrupted during startup, bye")
			return
		}
		logger.Fatalf("startup: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Run(gctx)
	})
	if cfg.Status.Addr != "" {
		serveStatus(gctx, g, cfg.Status.Addr, manager, runLogger)
	}

	if err := g.Wait(); err != nil {
		runLogger.Errorf("exiting: %v", err)
		stop()
		os.Exit(1)
	}
	runLogger.Info("bye")
}

func buildStorage(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*storage.S3Service, error) {
	if cfg.Storage.Volume == "" {
		return nil, fmt.Errorf("storage volume is required")
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx,
		awscfg.WithRegion(cfg.Region()),
		awscfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.Storage.AccessKey,
			cfg.Storage.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
		o.UsePathStyle = true
	})
	logger.Infof("using network volume %s (datacenter %s, endpoint %s)", cfg.Storage.Volume, cfg.Region(), cfg.Storage.Endpoint)
	return storage.NewS3Service(client, cfg.Storage.Volume), nil
}

// serveStatus runs the read-only status API until ctx is done. A listener
// that cannot be bound fails the group.
func serveStatus(ctx context.Context, g *errgroup.Group, addr string, stats apphttp.StatsSource, logger logrus.FieldLogger) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(stats).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	g.Go(func() error {
		logger.Infof("status api listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("status server shutdown: %v", err)
		}
		return nil
	})
}
