// Command voxserver runs the voxhub server endpoint: an authenticated TCP
// data listener sharing its port with a UDP audio socket, plus a separate
// control-plane TCP listener for CLIENT_JOIN/CLIENT_LEAVE broadcast.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/wiresong/voxhub/config"
	"github.com/wiresong/voxhub/internal/logging"
	"github.com/wiresong/voxhub/voxserver"
)

func main() {
	cfg := &config.Config{}
	var backlog int

	cmd := &cobra.Command{
		Use:   "voxserver",
		Short: "run the voxhub multi-party audio server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ApplyEnv(cmd.Flags())
			log := logging.SetDefault(cfg.LogLevel)

			srv := voxserver.New(voxserver.Options{
				Host:         cfg.DataHost,
				DataPort:     cfg.DataPort,
				ControlPort:  cfg.ControlPort,
				Backlog:      backlog,
				AudioLimiter: rate.NewLimiter(rate.Limit(500), 50),
				Log:          log,
			})

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			scheduler, err := gocron.NewScheduler()
			if err != nil {
				return err
			}
			if _, err := scheduler.NewJob(
				gocron.DurationJob(time.Minute),
				gocron.NewTask(func() {
					log.Info("voxserver: heartbeat", "data_port", cfg.DataPort, "control_port", cfg.ControlPort)
				}),
			); err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Shutdown()

			if err := srv.Start(ctx); err != nil {
				return err
			}
			log.Info("voxserver: listening", "data_port", cfg.DataPort, "control_port", cfg.ControlPort)

			<-ctx.Done()
			return srv.Close()
		},
	}

	cfg.BindFlags(cmd.Flags())
	cmd.Flags().IntVar(&backlog, "backlog", 64, "TCP accept backlog")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
