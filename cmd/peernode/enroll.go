package main

import (
	"context"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zonemesh/peernet/internal/registration"
)

func newEnrollCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "enroll",
		Short: "Bootstrap this node's identity against the doorman registration authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}

			machine := registration.NewMachine(registration.Config{
				LegalName:             cfg.MyLegalName,
				Email:                 cfg.EmailAddress,
				CertificatesDirectory: cfg.CertificatesDirectory,
				KeyStorePassword:      cfg.KeyStorePassword,
				TrustStorePassword:    cfg.TrustStorePassword,
				PrivateKeyPassword:    cfg.PrivateKeyPassword,
				PollInterval:          cfg.PollInterval,
				EnrolmentTimeout:      cfg.EnrolmentTimeout,
				SignatureScheme:       cfg.TLSSignatureScheme,
				Service:               registration.NewHTTPDoorman(cfg.DoormanURL, http.DefaultClient),
				Logger:                logger,
			})

			return machine.Run(context.Background())
		},
	}
}
