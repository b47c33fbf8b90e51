package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/tumor-api/internal/config"
	"github.com/Brownie44l1/tumor-api/internal/handlers"
	"github.com/Brownie44l1/tumor-api/internal/model"
	"github.com/Brownie44l1/tumor-api/internal/predictor"
	"github.com/Brownie44l1/tumor-api/internal/version"
)

const (
	ErrExitCode     = 1
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := NewServerCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(ErrExitCode)
	}
}

func NewServerCmd() *cobra.Command {
	// A bad PORT is reported when the command runs so --help still works.
	cfg, loadErr := config.Load()
	var verbosity int
	cmd := &cobra.Command{
		Use:           "tumor-api",
		Short:         "Brain tumor MRI classification API",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if loadErr != nil {
				return loadErr
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.SetFlags(log.LstdFlags | log.Lshortfile)
			stdr.SetVerbosity(verbosity)
			logger := stdr.NewWithOptions(log.Default(), stdr.Options{LogCaller: stdr.Error})
			ctx = logr.NewContext(ctx, logger)

			return Run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Port, "port", cfg.Port, "listen port (env PORT)")
	flags.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "path to the ONNX weights")
	flags.StringVar(&cfg.MetadataPath, "metadata", cfg.MetadataPath, "optional model metadata json")
	flags.StringVar(&cfg.ORTLibraryPath, "ort-lib", cfg.ORTLibraryPath, "onnxruntime shared library (env ONNXRUNTIME_LIB)")
	flags.StringSliceVar(&cfg.AllowedOrigins, "cors-origin", cfg.AllowedOrigins, "origins allowed to call the API with credentials")
	flags.IntVarP(&verbosity, "verbose", "v", 0, "log verbosity")
	return cmd
}

// Run loads the model, then serves until ctx is cancelled. The listener is
// not opened until the model is ready.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := logr.FromContextOrDiscard(ctx)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// When started from cmd/server, resolve model paths from the repo root.
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	if filepath.Base(wd) == "server" {
		wd = filepath.Join(wd, "../..")
	}
	cfg.ResolvePaths(wd)

	logger.Info("loading model", "path", cfg.ModelPath)
	metadata, err := model.LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return err
	}
	session, err := model.NewSession(cfg.ModelPath, metadata, cfg.ORTLibraryPath)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	svc, err := predictor.NewService(session, metadata.Classes)
	if err != nil {
		session.Close()
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error(err, "failed to release model")
		}
	}()
	logger.Info("model loaded", "classes", svc.Labels(), "input", metadata.InputShape)

	h := handlers.NewHandler(svc, cfg.ModelPath, version.Get().Version, logger.WithName("http"))
	server := http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handlers.NewRouter(h, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}
	logger.Info("server listening", "addr", cfg.ListenAddr(), "origins", cfg.AllowedOrigins)
	logger.Info("endpoints", "health", "GET /health", "predict", "POST /predict-tumor", "metrics", "GET /metrics")
	return serve(ctx, &server, server.ListenAndServe, shutdownTimeout)
}

// serve runs listen until ctx is cancelled, then drains in-flight requests.
// It returns only after Shutdown has finished, so callers may release the
// model afterwards.
func serve(ctx context.Context, server *http.Server, listen func() error, timeout time.Duration) error {
	logger := logr.FromContextOrDiscard(ctx)
	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		done <- server.Shutdown(shutdownCtx)
	}()

	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-done; err != nil {
		logger.Error(err, "graceful shutdown did not finish")
		return err
	}
	logger.Info("server stopped")
	return nil
}
