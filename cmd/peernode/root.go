package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zonemesh/peernet/internal/certkit"
	"github.com/zonemesh/peernet/internal/peernetcfg"
)

var (
	cfgFile  string
	certsDir string
)

func newRootCmd(logger *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "peernode",
		Short: "Enrol and run a permissioned peer-network node",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadViperConfig()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./peernode.yaml)")
	root.PersistentFlags().StringVar(&certsDir, "certificates-directory", "", "directory holding the node's keystores (overrides config)")

	root.AddCommand(newEnrollCmd(logger))
	root.AddCommand(newServeCmd(logger))
	root.AddCommand(newDialCmd(logger))
	return root
}

func loadViperConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("peernode")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("certificates_directory", "./certs")
	viper.SetDefault("key_store_password", "")
	viper.SetDefault("trust_store_password", "")
	viper.SetDefault("email_address", "")
	// allowed_remote_legal_names has no default: its presence and its
	// emptiness are both meaningful (see buildConfig), so it must be
	// left unset unless an operator configures it explicitly.
	viper.SetDefault("poll_interval", "10s")
	viper.SetDefault("tls_signature_scheme", "ECDSA-P256-SHA256")
	viper.SetDefault("doorman_url", "")
	viper.SetDefault("listen_address", "0.0.0.0:5671")
	viper.SetDefault("outbound_queue_depth", 256)
	viper.SetDefault("idle_timeout", "0s")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return err
		}
	}
	return nil
}

// buildConfig assembles a peernetcfg.Config from whatever viper loaded plus
// the --certificates-directory flag override.
func buildConfig() (*peernetcfg.Config, error) {
	legalName, err := certkit.Parse(viper.GetString("my_legal_name"))
	if err != nil {
		return nil, err
	}

	scheme := certkit.SchemeECDSAP256SHA256
	if viper.GetString("tls_signature_scheme") == "Ed25519" {
		scheme = certkit.SchemeEd25519
	}

	// allowed_remote_legal_names is left unset above, so IsSet tells us
	// apart an operator who never mentioned the key (nil: accept any
	// chain-valid peer) from one who pinned it to an empty list
	// (non-nil empty slice: reject every peer).
	var allowed *[]certkit.LegalName
	if viper.IsSet("allowed_remote_legal_names") {
		names := make([]certkit.LegalName, 0, len(viper.GetStringSlice("allowed_remote_legal_names")))
		for _, raw := range viper.GetStringSlice("allowed_remote_legal_names") {
			name, err := certkit.Parse(raw)
			if err != nil {
				return nil, err
			}
			names = append(names, name)
		}
		allowed = &names
	}

	dir := viper.GetString("certificates_directory")
	if certsDir != "" {
		dir = certsDir
	}

	cfg := &peernetcfg.Config{
		MyLegalName:             legalName,
		EmailAddress:            viper.GetString("email_address"),
		CertificatesDirectory:   dir,
		KeyStorePassword:        []byte(viper.GetString("key_store_password")),
		TrustStorePassword:      []byte(viper.GetString("trust_store_password")),
		AllowedRemoteLegalNames: allowed,
		PollInterval:            viper.GetDuration("poll_interval"),
		TLSSignatureScheme:      scheme,
		DoormanURL:              viper.GetString("doorman_url"),
		ListenAddress:           viper.GetString("listen_address"),
		CandidateAddresses:      viper.GetStringSlice("candidate_addresses"),
		OutboundQueueDepth:      viper.GetInt("outbound_queue_depth"),
		IdleTimeout:             viper.GetDuration("idle_timeout"),
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
