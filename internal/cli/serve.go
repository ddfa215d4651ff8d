package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/aegis-council/internal/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	servePort     int
	migrationsDir string
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, stream ingestion and maintenance heartbeat",
		RunE:  runServe,
	}
	cmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides server.port)")
	cmd.Flags().StringVar(&migrationsDir, "migrations", "migrations", "Directory of journal .up.sql migrations")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting aegis council")
	a, err := newApp(ctx, cfg, logger, migrationsDir)
	if err != nil {
		return err
	}
	defer a.close()

	a.clock.Start(ctx)

	ingestDone := make(chan struct{})
	if a.consumer != nil {
		go func() {
			defer close(ingestDone)
			if err := a.consumer.Run(ctx); err != nil {
				logger.Error("stream ingestion stopped", zap.Error(err))
			}
		}()
	} else {
		close(ingestDone)
	}

	handler := api.NewHandler(a.council, cfg.Server.RateLimit, cfg.Server.Burst, logger.Named("api"), a.apiOptions()...)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("aegis listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			<-ingestDone
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down aegis council")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-ingestDone
	return nil
}
