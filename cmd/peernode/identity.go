package main

import (
	"fmt"
	"path/filepath"

	"github.com/zonemesh/peernet/internal/credstore"
	"github.com/zonemesh/peernet/internal/peernetcfg"
	"github.com/zonemesh/peernet/internal/tlschannel"
)

const (
	sslKeystoreFile  = "sslkeystore.jks"
	trustStoreFile   = "truststore.jks"
	aliasClientTLS   = "CLIENT_TLS"
	aliasRootCA      = "ROOT_CA"
)

// loadIdentity reads the SSL keystore and truststore an enrolled node
// leaves on disk and assembles the tlschannel.Identity serve/dial need.
// It returns a plain error rather than wrapping ErrAliasMissing into a
// distinct kind: an absent TLS identity at this point means enroll was
// never run, which is an operator mistake, not a recoverable channel state.
func loadIdentity(cfg *peernetcfg.Config) (tlschannel.Identity, error) {
	sslStore, err := credstore.Load(filepath.Join(cfg.CertificatesDirectory, sslKeystoreFile), cfg.KeyStorePassword)
	if err != nil {
		return tlschannel.Identity{}, fmt.Errorf("load ssl keystore: %w", err)
	}
	trustStore, err := credstore.Load(filepath.Join(cfg.CertificatesDirectory, trustStoreFile), cfg.TrustStorePassword)
	if err != nil {
		return tlschannel.Identity{}, fmt.Errorf("load trust store: %w", err)
	}

	keypair, chain, err := sslStore.Get(aliasClientTLS, cfg.PrivateKeyPassword)
	if err != nil {
		return tlschannel.Identity{}, fmt.Errorf("read TLS identity: %w", err)
	}
	root, err := trustStore.GetCert(aliasRootCA)
	if err != nil {
		return tlschannel.Identity{}, fmt.Errorf("read trusted root: %w", err)
	}

	return tlschannel.Identity{KeyPair: keypair, Chain: chain, TrustedRoot: root}, nil
}
