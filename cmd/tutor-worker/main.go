package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/edulive-ai/tutorlive/internal/dotenv"
	"github.com/edulive-ai/tutorlive/pkg/tutor/config"
	"github.com/edulive-ai/tutorlive/pkg/tutor/worker"
)

type workerDeps struct {
	loadConfig   func() (config.Config, error)
	newRuntime   func(context.Context, config.Config, *slog.Logger) (*worker.Runtime, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultWorkerDeps() workerDeps {
	return workerDeps{
		loadConfig: config.LoadFromEnv,
		newRuntime: worker.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runWorker(ctx context.Context, stderr io.Writer, deps workerDeps) error {
	if deps.loadConfig == nil || deps.newRuntime == nil {
		return errors.New("missing runtime dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt, err := deps.newRuntime(runCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- rt.Run(runCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-runErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			closeRuntime(rt)
			return fmt.Errorf("worker: %w", err)
		}
	case <-ctx.Done():
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	cancel()
	<-runErrCh
	closeRuntime(rt)
	logger.Info("worker stopped")
	return nil
}

func closeRuntime(rt *worker.Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	rt.Close(ctx)
}

func runMain(ctx context.Context, stderr io.Writer, deps workerDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "tutor-worker: %v\n", err)
		return 1
	}

	if err := runWorker(ctx, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "tutor-worker: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultWorkerDeps()))
}
