package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/snow-ghost/fuzzyeval/evaluator"
	"github.com/snow-ghost/fuzzyeval/pkg/httpserver"
	"github.com/snow-ghost/fuzzyeval/pkg/limiter"
	"github.com/snow-ghost/fuzzyeval/pkg/observability"
)

const serviceName = "fuzzyd"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		healthcheck()
	}

	config := evaluator.LoadConfig()

	// Setup logging, metrics and tracing
	obs, err := observability.NewManager(observability.Config{
		ServiceName:    serviceName,
		Environment:    config.ServiceEnv,
		JaegerEndpoint: config.JaegerEndpoint,
		LogLevel:       config.LogLevel,
		LogFormat:      config.LogFormat,
	})
	if err != nil {
		log.Fatal("failed to initialize observability:", err)
	}
	logger := obs.GetLogger()

	svc, err := evaluator.New(config, obs)
	if err != nil {
		logger.Fatal("failed to build evaluation service", "error", err.Error())
	}

	server := httpserver.NewServer(svc, httpserver.Options{
		Port:           config.Port,
		ServiceName:    serviceName,
		RequestTimeout: config.RequestTimeout,
		RateLimit: limiter.RateConfig{
			RPS:     config.RateLimitRPS,
			Burst:   config.RateLimitBurst,
			MaxKeys: config.RateLimitKeys,
		},
	})

	logger.Info("starting fuzzy evaluation service",
		"port", config.Port,
		"model", svc.Name(),
		"defuzzifier", string(svc.System().Defuzzifier()),
		"journal", config.JournalDriver,
		"log_level", config.LogLevel)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err.Error())
		}
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err.Error())
	}
	if err := svc.Close(); err != nil {
		logger.Error("failed to close evaluation service", "error", err.Error())
	}
	if err := obs.Shutdown(ctx); err != nil {
		log.Println("failed to flush telemetry:", err)
	}
}
