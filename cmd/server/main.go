package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/ticket-rush/internal/adapter/handler"
	"github.com/rl1809/ticket-rush/internal/adapter/metrics"
	"github.com/rl1809/ticket-rush/internal/adapter/queue"
	"github.com/rl1809/ticket-rush/internal/adapter/storage"
	"github.com/rl1809/ticket-rush/internal/config"
	"github.com/rl1809/ticket-rush/internal/core/service"
	"github.com/rl1809/ticket-rush/internal/logger"
	"github.com/rl1809/ticket-rush/internal/port"
)

// workQueue is what every queue driver provides.
type workQueue interface {
	port.Publisher
	port.Consumer
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.App.LogLevel, cfg.App.IsProduction())

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize SQL store
	db, err := storage.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info().Str("driver", cfg.Database.Driver).Msg("connected to database")

	sqlAdapter := storage.NewSQLAdapter(db)
	if cfg.Database.AutoMigrate {
		if err := sqlAdapter.ApplySchema(ctx); err != nil {
			return err
		}
		log.Info().Msg("schema applied")
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "connect redis")
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")
	redisAdapter := storage.NewRedisAdapter(rdb)

	q := newQueue(cfg.Queue, rdb, log)
	defer q.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	workerMetrics := metrics.NewWorkerMetrics(reg)

	broadcaster := service.NewBroadcaster(0, log)
	cache := service.NewIdempotencyCache(redisAdapter, redisAdapter, cfg.Order.ClaimTTL, cfg.Order.IdempotencyTTL, log)
	orderService := service.NewOrderService(cache, q, sqlAdapter, broadcaster, service.OrderServiceConfig{
		MinQuantity: cfg.Order.MinQuantity,
		MaxQuantity: cfg.Order.MaxQuantity,
	}, log)
	worker := service.NewOrderWorker(redisAdapter, redisAdapter, txTimeout{sqlAdapter, cfg.Order}, broadcaster, workerMetrics, service.WorkerConfig{
		LockTTL:            cfg.Order.LockTTL,
		MaxLockRetries:     cfg.Order.MaxLockRetries,
		RetryTTL:           cfg.Order.RetryTTL,
		RestockOnDepletion: cfg.Order.RestockOnDepletion,
	}, log)

	// Transports
	httpHandler := handler.NewHTTPHandler(orderService, map[string]handler.Pinger{
		"database": sqlAdapter,
		"redis":    redisAdapter,
	}, log)
	httpServer := &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: handler.NewRouter(handler.RouterConfig{
			HTTP:    httpHandler,
			WS:      handler.NewWSHandler(broadcaster, log),
			Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}),
	}

	grpcServer := grpc.NewServer()
	handler.NewGRPCHandler(orderService, log).Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return errors.Wrap(err, "listen grpc")
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.Order.Workers; i++ {
		g.Go(func() error {
			return worker.Run(gctx, q)
		})
	}
	log.Info().Int("workers", cfg.Order.Workers).Str("queue", cfg.Queue.Driver).Msg("started workers")

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.GRPCAddr).Msg("gRPC server listening")
		return errors.Wrap(grpcServer.Serve(lis), "grpc server")
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown")
		}
		grpcServer.GracefulStop()
		log.Info().Msg("servers stopped")
		return nil
	})

	return g.Wait()
}

func newQueue(cfg config.QueueConfig, rdb *redis.Client, log zerolog.Logger) workQueue {
	switch strings.ToLower(cfg.Driver) {
	case "kafka":
		return queue.NewKafkaQueue(queue.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.Name,
			DLQ:     cfg.DLQ,
			Group:   cfg.Group,
		}, log)
	case "memory":
		return queue.NewMemoryQueue(cfg.Buffer, 0, log)
	default:
		return queue.NewRedisStreamQueue(rdb, queue.RedisStreamConfig{
			Stream: cfg.Name,
			DLQ:    cfg.DLQ,
			Group:  cfg.Group,
		}, log)
	}
}

// txTimeout bounds every inventory transaction so it cannot outlive the item lock.
type txTimeout struct {
	port.InventoryStore
	cfg config.OrderConfig
}

func (t txTimeout) WithinTx(ctx context.Context, fn func(tx port.InventoryTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.TxTimeout)
	defer cancel()
	return t.InventoryStore.WithinTx(ctx, fn)
}
