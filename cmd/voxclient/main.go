// Command voxclient runs the voxhub client endpoint: captures from an
// audio.Device, encodes and transmits over UDP, and plays back whatever the
// server fans out. The device wired here is the in-memory memorydevice
// double, which captures silence unless frames are fed to it; no hardware
// capture or playback binding is included.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/wiresong/voxhub/audio/memorydevice"
	"github.com/wiresong/voxhub/codec"
	"github.com/wiresong/voxhub/codec/opuscodec"
	"github.com/wiresong/voxhub/config"
	"github.com/wiresong/voxhub/internal/logging"
	"github.com/wiresong/voxhub/recorder/wavwriter"
	"github.com/wiresong/voxhub/session"
	"github.com/wiresong/voxhub/voxclient"
)

func main() {
	cfg := &config.Config{}
	var recordPath string

	cmd := &cobra.Command{
		Use:   "voxclient",
		Short: "run the voxhub audio client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ApplyEnv(cmd.Flags())
			log := logging.SetDefault(cfg.LogLevel)

			opts := voxclient.Options{
				Host:         cfg.DataHost,
				DataPort:     cfg.DataPort,
				Device:       memorydevice.New(),
				Gate:         session.DefaultGateParams,
				Comp:         session.DefaultCompParams,
				NewEncoder: func() (codec.Encoder, error) {
					enc, err := opuscodec.NewEncoder()
					if err != nil {
						return nil, err
					}
					return enc, nil
				},
				NewDecoder: func() (codec.Decoder, error) {
					dec, err := opuscodec.NewDecoder()
					if err != nil {
						return nil, err
					}
					return dec, nil
				},
				AudioLimiter: rate.NewLimiter(rate.Limit(60), 10),
				Log:          log,
			}

			if recordPath != "" {
				w, err := wavwriter.Create(recordPath)
				if err != nil {
					log.Warn("voxclient: session recording disabled", "error", err)
				} else {
					opts.Record = w
				}
			}

			client := voxclient.New(opts)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := client.Connect(ctx); err != nil {
				return err
			}
			log.Info("voxclient: connected", "host", cfg.DataHost, "data_port", cfg.DataPort)

			go client.CaptureLoop(ctx)
			go client.InboundLoop(ctx)
			go client.PlaybackLoop(ctx)

			<-ctx.Done()
			return client.Close()
		},
	}

	cfg.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&recordPath, "record", "", "write a WAV recording of everything played back (disabled if empty)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
