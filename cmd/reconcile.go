package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openvenue/scheduler/internal/database"
	"github.com/openvenue/scheduler/internal/repository"
	"github.com/openvenue/scheduler/internal/service"
)

var reconcileWatch bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Flip checked-in registrations of ended events to no-show",
	Long: `Sweeps registrations still CHECKED_IN after their event ended plus a
grace period and marks them NO_SHOW, freeing the capacity they held. Runs
once by default; with --watch it keeps running on the configured cron
schedule.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileWatch, "watch", false, "keep running on the reconciler cron schedule")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := service.New(repository.NewStore(pool), nil, nil, service.Config{
		MaxOccurrences:  cfg.Engine.MaxOccurrences,
		RegisterRetries: cfg.Engine.RegisterRetries,
	})

	sweep := func() {
		n, err := svc.ReconcileNoShows(ctx, cfg.Reconciler.Grace, cfg.Reconciler.Batch)
		if err != nil {
			log.Error().Err(err).Msg("no-show sweep failed")
			return
		}
		log.Info().Int("marked", n).Msg("no-show sweep complete")
	}

	if !reconcileWatch {
		sweep()
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Reconciler.Cron, sweep); err != nil {
		return err
	}
	c.Start()
	log.Info().Str("cron", cfg.Reconciler.Cron).Msg("reconciler running")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
