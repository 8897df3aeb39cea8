// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	axonconfig "github.com/dr-jd-allen/axon/internal/config"
	"github.com/dr-jd-allen/axon/pkg/breaker"
	"github.com/dr-jd-allen/axon/pkg/cache"
	"github.com/dr-jd-allen/axon/pkg/credentials"
	"github.com/dr-jd-allen/axon/pkg/gateway"
	"github.com/dr-jd-allen/axon/pkg/llmservice"
	"github.com/dr-jd-allen/axon/pkg/metamemory"
	"github.com/dr-jd-allen/axon/pkg/orchestrator"
	"github.com/dr-jd-allen/axon/pkg/persistence"
	"github.com/dr-jd-allen/axon/pkg/providerfactory"
	"github.com/dr-jd-allen/axon/pkg/providers/ollama"
	"github.com/dr-jd-allen/axon/pkg/ratelimit"
	"github.com/dr-jd-allen/axon/pkg/registry"
	"github.com/dr-jd-allen/axon/pkg/toolnegotiator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the axon gateway",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting axon", zap.String("data_dir", cfg.DataDir))

	shutdownTracing, err := setupTracing(context.Background(), cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracer_provider_shutdown_failed", zap.Error(err))
		}
	}()

	creds := buildCredentialChain(cfg.Credentials, logger)

	reg := registry.New(registry.DefaultModels(), registry.DefaultFallbacks())

	factory := providerfactory.New(creds, ollama.Config{
		Endpoint: "http://localhost:11434",
		Timeout:  60 * time.Second,
	})

	limiter := ratelimit.NewLimiter(buildBucketConfigs(cfg.RateLimit), ratelimit.Config{
		Capacity:   cfg.RateLimit.Default.Capacity,
		RefillRate: cfg.RateLimit.Default.RefillPerSecond,
	})

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Timeout:          time.Duration(cfg.Breaker.ReopenSeconds) * time.Second,
		Window:           5 * time.Minute,
	}, logger)

	respCache := cache.New(cache.Config{
		Capacity: cfg.Cache.Capacity,
		TTL:      time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	})
	if !cfg.Cache.Enabled {
		respCache.Disable()
	}
	defer respCache.Stop()

	negotiator := toolnegotiator.New()

	persistDir := cfg.Persistence.Dir
	if persistDir == "" {
		persistDir = filepath.Join(cfg.DataDir, "memory")
	}
	if err := os.MkdirAll(persistDir, 0o755); err != nil {
		return fmt.Errorf("creating persistence dir: %w", err)
	}

	meta := metamemory.New()
	metaSnapshotPath := filepath.Join(persistDir, "meta-memory.json")
	var metaSnapshot metamemory.Snapshot
	if found, err := persistence.LoadSnapshot(metaSnapshotPath, &metaSnapshot); err != nil {
		logger.Warn("failed to load meta-memory snapshot", zap.Error(err))
	} else if found {
		meta = metamemory.FromSnapshot(metaSnapshot)
		logger.Info("loaded meta-memory snapshot", zap.String("path", metaSnapshotPath))
	}

	autosaver, err := persistence.NewAutosaver(cfg.Persistence.AutosaveSchedule, func() error {
		return persistence.SaveSnapshot(metaSnapshotPath, meta.ToSnapshot())
	}, logger)
	if err != nil {
		return fmt.Errorf("starting meta-memory autosaver: %w", err)
	}
	defer func() {
		if err := autosaver.Flush(); err != nil {
			logger.Warn("final meta-memory flush failed", zap.Error(err))
		}
		autosaver.Stop()
	}()

	svc := llmservice.New(llmservice.Config{
		Registry:   reg,
		Factory:    factory,
		Limiter:    limiter,
		Cache:      respCache,
		Breakers:   breakers,
		Negotiator: negotiator,
		Logger:     logger,
		OnFallback: func(ev llmservice.FallbackEvent) {
			logger.Info("model_fallback", zap.String("from", ev.FromModel), zap.String("to", ev.ToModel), zap.String("reason", ev.Reason))
		},
	})

	orch := orchestrator.New(svc, meta, logger)

	startTime := time.Now()
	status := &serverStatus{registry: reg, startTime: startTime}

	srv := gateway.New(orchestratorDispatcher{orch: orch}, status, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// orchestratorDispatcher adapts *orchestrator.Orchestrator to
// gateway.Dispatcher so the gateway package never imports the orchestrator
// concrete type directly.
type orchestratorDispatcher struct {
	orch *orchestrator.Orchestrator
}

func (d orchestratorDispatcher) Run(ctx context.Context, sessionID string, agents []orchestrator.Agent, userMessage string, c orchestrator.Config, sink orchestrator.EventSink) (any, error) {
	return d.orch.Run(ctx, sessionID, agents, userMessage, c, sink)
}

type serverStatus struct {
	registry  *registry.Registry
	startTime time.Time
}

func (s *serverStatus) KnownAgents() []string { return s.registry.KnownModels() }
func (s *serverStatus) Uptime() time.Duration { return time.Since(s.startTime) }

func buildLogger(cfg axonconfig.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level := zap.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zap.InfoLevel
		}
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build(zap.AddStacktrace(zap.ErrorLevel))
}

// setupTracing builds and registers a real sdktrace.TracerProvider exporting
// over OTLP/HTTP so the spans pkg/orchestrator starts are actually
// collected instead of discarded by the default no-op provider. A blank
// endpoint leaves tracing disabled and returns a no-op shutdown func.
func setupTracing(ctx context.Context, cfg axonconfig.TracingConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		res = resource.Default()
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SamplingRatio)
	if cfg.SamplingRatio >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

func buildCredentialChain(cfg axonconfig.CredentialsConfig, logger *zap.Logger) credentials.Chain {
	var chain credentials.Chain
	for _, backend := range cfg.Backends {
		switch backend {
		case "env":
			chain = append(chain, credentials.EnvProvider{})
		case "keyring":
			chain = append(chain, credentials.NewKeyringProvider(""))
		case "file":
			if cfg.FilePath == "" {
				logger.Warn("file credential backend configured without a path, skipping")
				continue
			}
			key := []byte(os.Getenv(cfg.EncryptionSecretEnv))
			fp, err := credentials.NewFileProvider(cfg.FilePath, key, logger)
			if err != nil {
				logger.Warn("failed to open file credential backend", zap.Error(err))
				continue
			}
			chain = append(chain, fp)
		default:
			logger.Warn("unknown credential backend, skipping", zap.String("backend", backend))
		}
	}
	return chain
}

func buildBucketConfigs(cfg axonconfig.RateLimitConfig) map[string]ratelimit.Config {
	out := make(map[string]ratelimit.Config, len(cfg.Provider))
	for provider, bucket := range cfg.Provider {
		out[provider] = ratelimit.Config{Capacity: bucket.Capacity, RefillRate: bucket.RefillPerSecond}
	}
	return out
}
