package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zonemesh/peernet/internal/peerchannel"
)

func newServeCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the passive (accepting) side of the peer channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			identity, err := loadIdentity(cfg)
			if err != nil {
				return err
			}

			server := peerchannel.NewServer(peerchannel.ServerConfig{
				ListenAddress:           cfg.ListenAddress,
				LocalLegalName:          cfg.MyLegalName,
				Identity:                identity,
				AllowedRemoteLegalNames: cfg.AllowedRemoteLegalNames,
				OutboundQueueDepth:      cfg.OutboundQueueDepth,
				IdleTimeout:             cfg.IdleTimeout,
				Logger:                  logger,
			})
			if err := server.Listen(); err != nil {
				return err
			}
			logger.Info("peer channel listening", zap.String("address", server.Addr().String()))

			connected, unsub := server.OnConnection(16)
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

			server.Stop()
			return nil
		},
	}
}
