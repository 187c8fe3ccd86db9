package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zonemesh/peernet/internal/peerchannel"
)

func newDialCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "dial",
		Short: "Run the active (connecting) side of the peer channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			identity, err := loadIdentity(cfg)
			if err != nil {
				return err
			}

			client := peerchannel.NewClient(peerchannel.ClientConfig{
				CandidateAddresses:      cfg.CandidateAddresses,
				LocalLegalName:          cfg.MyLegalName,
				Identity:                identity,
				AllowedRemoteLegalNames: cfg.AllowedRemoteLegalNames,
				OutboundQueueDepth:      cfg.OutboundQueueDepth,
				IdleTimeout:             cfg.IdleTimeout,
				Logger:                  logger,
			})
			if err := client.Start(); err != nil {
				return err
			}

			connected, unsub := client.OnConnection(16)
			defer unsub()
			go func() {
				for change := range connected {
					logger.Info("peer connection changed",
						zap.String("remote_address", change.RemoteAddress),
						zap.Bool("connected", change.Connected))
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			client.Close()
			return nil
		},
	}
}
