package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"formsave/config/database"
	"formsave/internal/answers/repository"
	"formsave/internal/answers/service"
	"formsave/internal/config"
	"formsave/pkg/logger"
	"formsave/router"
	"formsave/socket"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the answers API and version feed",
		Long: `Run the HTTP server.

Configuration comes from the environment (and .env): SERVER_PORT, STORE_DRIVER
(postgres|sqlite3|memory), DB_*, SQLITE_PATH, JWT_SECRET and LOG_LEVEL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), rootOpts)
		},
	}
}

func runServer(parent context.Context, rootOpts *RootOptions) error {
	cfg, err := config.Load(rootOpts.envFiles()...)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if rootOpts.LogLevel != "" {
		level = rootOpts.LogLevel
	}
	logger.Init(level)
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := socket.NewHub()
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router.Setup(service.NewAnswerService(store, hub), hub, cfg.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Sugar.Infof("Server listening on %s (store: %s)", srv.Addr, cfg.StoreDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Sugar.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (service.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Sugar.Warn("Using the in-memory store: answers are lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	}

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewDocumentRepository(db), func() { db.Close() }, nil
}
