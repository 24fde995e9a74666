package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openvenue/scheduler/internal/cache"
	"github.com/openvenue/scheduler/internal/database"
	"github.com/openvenue/scheduler/internal/handler"
	"github.com/openvenue/scheduler/internal/notify"
	"github.com/openvenue/scheduler/internal/repository"
	"github.com/openvenue/scheduler/internal/service"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP API server",
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info().Msg("connected to postgres")

	var availCache service.AvailabilityCache
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rc.Close()
		availCache = rc
		log.Info().Msg("availability cache enabled")
	}

	svc := service.New(repository.NewStore(pool), availCache,
		notify.NewLogNotifier(log.Logger), service.Config{
			MaxOccurrences:  cfg.Engine.MaxOccurrences,
			RegisterRetries: cfg.Engine.RegisterRetries,
			AvailabilityTTL: cfg.Engine.AvailabilityTTL,
		})

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(handler.RequestLogger(log.Logger))
	r.Use(handler.CORS)
	r.Use(handler.WithIdentity)
	r.Mount("/", handler.New(svc).Routes())

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
