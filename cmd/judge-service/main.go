package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ZeroOneDeveloper/code01-judge/internal/common/cache"
	"github.com/ZeroOneDeveloper/code01-judge/internal/common/db"
	commonmw "github.com/ZeroOneDeveloper/code01-judge/internal/common/http/middleware"
	"github.com/ZeroOneDeveloper/code01-judge/internal/common/mq"
	"github.com/ZeroOneDeveloper/code01-judge/internal/common/storage"
	judgecache "github.com/ZeroOneDeveloper/code01-judge/internal/judge/cache"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/controller"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/progress"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/repository"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox"
	sandboxcfg "github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/config"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/engine"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/runner"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/workspace"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/service"
	"github.com/ZeroOneDeveloper/code01-judge/pkg/utils/logger"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	localRepo := sandboxcfg.NewLocalRepository(appCfg.Language.Languages, appCfg.Language.Profiles)
	eng, err := engine.NewEngine(appCfg.Sandbox.toEngineConfig(), localRepo)
	if err != nil {
		logger.Error(context.Background(), "init sandbox engine failed", zap.Error(err))
		return
	}
	jobRunner := runner.NewRunner(eng)

	workspaces, err := workspace.NewManager(appCfg.Judge.WorkRoot)
	if err != nil {
		logger.Error(context.Background(), "init workspace manager failed", zap.Error(err))
		return
	}
	worker := sandbox.NewWorker(jobRunner, localRepo, localRepo, workspaces, sandbox.WorkerConfig{
		CaseParallelism:  appCfg.Worker.CaseParallelism,
		CompileCeilingMs: appCfg.Worker.CompileCeilingMs,
	})

	statusRepo := repository.NewStatusRepository(redisCache, appCfg.Status.TTL)
	submissionSink := repository.NewSubmissionSink(mysqlDB)
	statusPublisher := repository.NewMQStatusEventPublisher(mqClient, appCfg.Status.FinalTopic)
	broker := progress.NewBroker()
	defer broker.Close()

	dataCache := judgecache.NewDataPackCache(
		appCfg.Cache.RootDir, appCfg.Cache.TTL, appCfg.Cache.LockWait,
		appCfg.Cache.MaxEntries, appCfg.Cache.MaxBytes,
		appCfg.MinIO.Bucket, objStorage, redisCache,
	)

	judgeSvc, err := service.NewService(service.Config{
		Worker:        worker,
		StatusRepo:    statusRepo,
		Sink:          submissionSink,
		Publisher:     statusPublisher,
		Broker:        broker,
		DataCache:     dataCache,
		WorkerTimeout: appCfg.Worker.Timeout,
		StatusTimeout: appCfg.Status.Timeout,
		PoolSize:      appCfg.Worker.PoolSize,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge service failed", zap.Error(err))
		return
	}

	limiter := mq.NewTokenLimiter(appCfg.Worker.PoolSize)
	err = mqClient.Subscribe(context.Background(), appCfg.Kafka.Topic, judgeSvc.HandleMessage, &mq.SubscribeOptions{
		ConsumerGroup:   appCfg.Kafka.ConsumerGroup,
		PrefetchCount:   appCfg.Kafka.PrefetchCount,
		Concurrency:     appCfg.Kafka.Concurrency,
		MaxRetries:      appCfg.Kafka.MaxRetries,
		RetryDelay:      appCfg.Kafka.RetryDelay,
		DeadLetterTopic: appCfg.Kafka.DeadLetter,
		MessageTTL:      appCfg.Kafka.MessageTTL,
	}, limiter)
	if err != nil {
		logger.Error(context.Background(), "subscribe kafka failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, statusRepo, submissionSink, broker)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	_ = mqClient.Stop()
}

func buildHTTPServer(cfg ServerConfig, statusRepo *repository.StatusRepository, sink *repository.SubmissionSink, broker *progress.Broker) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	api := router.Group("/api/v1/judge")
	judgeController := controller.NewJudgeController(statusRepo, sink, broker)
	judgeController.RegisterRoutes(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
