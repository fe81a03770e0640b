// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SyedDaiam9101/volseg-service/internal/cache"
	"github.com/SyedDaiam9101/volseg-service/internal/config"
	"github.com/SyedDaiam9101/volseg-service/internal/handler"
	"github.com/SyedDaiam9101/volseg-service/internal/inference"
	"github.com/SyedDaiam9101/volseg-service/internal/logging"
	"github.com/SyedDaiam9101/volseg-service/internal/metrics"
	"github.com/SyedDaiam9101/volseg-service/internal/middleware"
	"github.com/SyedDaiam9101/volseg-service/internal/store"
	pb "github.com/SyedDaiam9101/volseg-service/proto/segmentpb"
)

const serviceName = "volseg-service"

func main() {
	// Parse command-line flags
	port := flag.Int("port", 0, "gRPC server port (default: 50051)")
	modelPath := flag.String("model", "", "Path to ONNX segmentation model (default: unet_hippocampus.onnx)")
	device := flag.String("device", "", "Inference device: cpu, cuda, cuda:N (default: cpu)")
	redisAddr := flag.String("redis", "", "Redis address for the mask cache (default: localhost:6379)")
	metricsPort := flag.Int("metrics", 0, "Prometheus metrics port (default: 9100)")
	workers := flag.Int("workers", 0, "Number of independent inference agents (default: 1)")
	configFile := flag.String("config", "", "Path to config file (optional)")
	useMock := flag.Bool("mock", false, "Use mock inference backend (for testing)")
	flag.Parse()

	v := config.New()
	usedFile, err := config.ReadConfigFile(v, *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Flags override file and environment
	if *port > 0 {
		v.Set("port", *port)
	}
	if *modelPath != "" {
		v.Set("model", *modelPath)
	}
	if *device != "" {
		v.Set("device", *device)
	}
	if *redisAddr != "" {
		v.Set("redis", *redisAddr)
	}
	if *metricsPort > 0 {
		v.Set("metrics_port", *metricsPort)
	}
	if *workers > 0 {
		v.Set("workers", *workers)
	}
	if *useMock {
		v.Set("use_mock", true)
	}

	cfg, err := config.FromViper(v)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.New(os.Stderr, level, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting "+serviceName,
		"port", cfg.Port,
		"metrics_port", cfg.MetricsPort,
		"model", cfg.Model,
		"device", cfg.Device,
		"patch_size", cfg.PatchSize,
		"workers", cfg.Workers,
		"redis", cfg.Redis,
		"runs_db", cfg.RunsDB,
		"otel", cfg.OTELEnabled)
	if usedFile != "" {
		logger.Info("using config file", "path", usedFile)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Initialize OpenTelemetry tracer
	var tracerShutdown func(context.Context) error
	if cfg.OTELEnabled {
		var err error
		tracerShutdown, err = initTracer(cfg.OTELEndpoint, logger)
		if err != nil {
			logger.Warn("failed to initialize tracer", "err", err)
		} else {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", cfg.OTELEndpoint)
		}
	}

	// Build inference agents
	infCfg := cfg.InferenceConfig()
	infCfg.Logger = logger.With("component", "agent")

	var (
		agents *inference.Pool
		err    error
	)
	if cfg.UseMock {
		logger.Info("using mock inference backend")
		agents, err = inference.NewMockPool(infCfg, cfg.Workers)
	} else {
		logger.Info("loading ONNX model", "path", cfg.Model, "workers", cfg.Workers)
		agents, err = inference.NewDefaultPool(infCfg, cfg.Workers)
	}
	if err != nil {
		return fmt.Errorf("failed to build inference agents: %w", err)
	}
	defer agents.Close()
	logger.Info("inference agents ready", "workers", agents.Size(), "classes", agents.Agent().NumClasses())

	// Initialize Redis mask cache (optional)
	var cacheClient *cache.Cache
	if cfg.Redis != "" {
		cacheClient, err = cache.New(context.Background(), cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, continuing without mask cache", "addr", cfg.Redis, "err", err)
			cacheClient = nil
		} else {
			defer cacheClient.Close()
			logger.Info("redis connected", "addr", cfg.Redis)
		}
	}

	// Open run log (optional)
	var runs *store.Store
	if cfg.RunsDB != "" {
		runs, err = store.Open(cfg.RunsDB)
		if err != nil {
			return fmt.Errorf("failed to open run log %s: %w", cfg.RunsDB, err)
		}
		defer runs.Close()
	}

	// Create gRPC health server
	healthServer := health.NewServer()

	// Start HTTP server for metrics and health checks
	httpServer := startHTTPServer(cfg.MetricsPort, healthServer, logger)

	// Build interceptor chain
	interceptors := []grpc.UnaryServerInterceptor{
		middleware.UnaryRequestIDInterceptor(logger),
		middleware.UnaryMetricsInterceptor(),
		middleware.UnaryLoggingInterceptor(logger),
	}

	// Add OpenTelemetry interceptor if enabled
	if cfg.OTELEnabled {
		interceptors = append(interceptors, otelgrpc.UnaryServerInterceptor())
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptors...),
	)

	h := handler.New(agents, handler.Options{
		Cache:    cacheClient,
		Runs:     runs,
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
	})
	pb.RegisterSegmentationServer(grpcServer, h)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	addr := fmt.Sprintf(":%d", cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	metrics.SetHealthy()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutting down gracefully", "signal", sig.String())

		healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.SetUnhealthy()

		// Give time for load balancers to detect unhealthy status
		time.Sleep(5 * time.Second)

		grpcServer.GracefulStop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}

		if tracerShutdown != nil {
			if err := tracerShutdown(ctx); err != nil {
				logger.Warn("tracer shutdown", "err", err)
			}
		}
	}()

	logger.Info("gRPC server listening", "addr", addr)

	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func startHTTPServer(port int, healthServer *health.Server, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthHandler(healthServer, "OK", "Service Unavailable"))
	mux.HandleFunc("/readyz", healthHandler(healthServer, "Ready", "Not Ready"))

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening (metrics, health)", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "err", err)
		}
	}()

	return server
}

func healthHandler(healthServer *health.Server, ok, unavailable string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := healthServer.Check(r.Context(), &healthpb.HealthCheckRequest{})
		if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(unavailable))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(ok))
	}
}

func initTracer(endpoint string, logger *slog.Logger) (func(context.Context) error, error) {
	// Only the stdout exporter is wired; an OTLP endpoint is recorded but spans go to stdout
	if endpoint != "" {
		logger.Info("using stdout trace exporter", "otlp_endpoint", endpoint)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
