package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/akhenakh/predraster/crs"
	"github.com/akhenakh/predraster/dataset"
	"github.com/akhenakh/predraster/predapi"
)

const appName = "predraster"

var (
	grpcAPIServer     *grpc.Server
	grpcHealthServer  *grpc.Server
	httpMetricsServer *http.Server
	httpRestServer    *http.Server
	grpcMetrics       = grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram(
		grpcprom.WithHistogramBuckets([]float64{0.01, 0.1, 0.3, 0.6, 1, 3, 6, 9}),
	))
)

// Config holds all configuration for the application, loaded from environment variables.
type Config struct {
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"INFO"`
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8080"`
	APIPort         int           `env:"API_PORT" envDefault:"9200"`
	HealthPort      int           `env:"HEALTH_PORT" envDefault:"6666"`
	HTTPMetricsPort int           `env:"METRICS_PORT" envDefault:"8888"`
	Datasets        []string      `env:"DATASETS,required" envSeparator:","`
	BlockSize       int           `env:"BLOCK_SIZE" envDefault:"256"`
	EPSGURL         string        `env:"EPSG_URL" envDefault:"https://epsg.io/%d.wkt"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("failed to parse config: %+v\n", err)
		os.Exit(1)
	}

	logger := createLogger(cfg, appName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	reg, err := setupDatasets(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open datasets, shutting down", "error", err)
		os.Exit(1)
	}
	defer reg.Close()

	g, ctx := errgroup.WithContext(ctx)

	healthServer := health.NewServer()

	// gRPC Health Server
	g.Go(func() error {
		return startHealthServer(logger, cfg, healthServer)
	})

	// HTTP Metrics Server (Prometheus)
	g.Go(func() error {
		return startMetricsServer(logger, cfg)
	})

	// gRPC API Server
	g.Go(func() error {
		return startGRPCAPIServer(logger, cfg, healthServer, reg)
	})

	// HTTP REST Server
	g.Go(func() error {
		return startHTTPRestServer(logger, cfg, reg)
	})

	select {
	case <-interrupt:
		slog.Warn("received termination signal, starting graceful shutdown")
		cancel()
	case <-ctx.Done():
		slog.Warn("context cancelled, starting graceful shutdown")
	}

	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		if err := httpMetricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP metrics server shutdown error", "error", err)
		}
	}
	if httpRestServer != nil {
		if err := httpRestServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP REST server shutdown error", "error", err)
		}
	}
	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}
	if grpcAPIServer != nil {
		grpcAPIServer.GracefulStop()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server group returned an error", "error", err)
		os.Exit(2)
	}
}

func setupDatasets(ctx context.Context, cfg Config, logger *slog.Logger) (*registry, error) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	opts := dataset.Options{
		Logger:     logger,
		HTTPClient: client,
		CRS:        crs.NewCache(&crs.HTTPResolver{URLTemplate: cfg.EPSGURL, Client: client}),
		BlockSize:  cfg.BlockSize,
	}
	logger.Info("opening datasets", "count", len(cfg.Datasets), "epsg_url", cfg.EPSGURL)
	return openRegistry(ctx, cfg.Datasets, opts, logger)
}

func startHealthServer(logger *slog.Logger, cfg Config, healthServer *health.Server) error {
	addr := fmt.Sprintf(":%d", cfg.HealthPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC Health server failed to listen: %w", err)
	}

	grpcHealthServer = grpc.NewServer()
	healthpb.RegisterHealthServer(grpcHealthServer, healthServer)
	logger.Info("gRPC health server listening", "address", addr)
	return grpcHealthServer.Serve(lis)
}

func startMetricsServer(logger *slog.Logger, cfg Config) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPMetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	prometheus.MustRegister(grpcMetrics)
	prometheus.MustRegister(predapi.Collectors()...)
	prometheus.MustRegister(dataset.Collectors()...)

	httpMetricsServer = &http.Server{Addr: addr, Handler: mux}
	logger.Info("HTTP metrics server listening", "address", addr)

	if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP metrics server failed: %w", err)
	}
	return nil
}

func newGRPCServer(logger *slog.Logger, reg *registry) *grpc.Server {
	lopts := []logging.Option{logging.WithLogOnEvents(logging.StartCall, logging.FinishCall)}
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(
				InterceptorLogger(logger),
				lopts...),
			grpcMetrics.UnaryServerInterceptor(),
		),
	)
	s.RegisterService(&rasterServiceDesc, &Server{registry: reg, logger: logger})
	reflection.Register(s)
	return s
}

func startGRPCAPIServer(logger *slog.Logger, cfg Config, healthServer *health.Server, reg *registry) error {
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC API server failed to listen: %w", err)
	}

	grpcAPIServer = newGRPCServer(logger, reg)
	healthServer.SetServingStatus(rasterServiceName, healthpb.HealthCheckResponse_SERVING)
	logger.Info("gRPC API server listening", "address", addr)
	return grpcAPIServer.Serve(lis)
}

func startHTTPRestServer(logger *slog.Logger, cfg Config, reg *registry) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpRestServer = &http.Server{Addr: addr, Handler: newRESTHandler(reg, logger)}
	logger.Info("HTTP REST server listening", "address", addr)

	if err := httpRestServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP REST server failed: %w", err)
	}
	return nil
}

func createLogger(cfg Config, appName string) *slog.Logger {
	var programLevel slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		programLevel = slog.LevelDebug
	case "INFO":
		programLevel = slog.LevelInfo
	case "WARN":
		programLevel = slog.LevelWarn
	case "ERROR":
		programLevel = slog.LevelError
	default:
		programLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     programLevel,
		AddSource: programLevel <= slog.LevelDebug,
	}).WithAttrs([]slog.Attr{slog.String("app", appName)})
	return slog.New(handler)
}

func InterceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}
