// Package peernetcfg is the single configuration value object every
// peernet component is constructed from. cmd/peernode assembles one with
// viper and passes it down explicitly; nothing in this module reaches for
// a process-global config singleton.
package peernetcfg

import (
	"fmt"
	"time"

	"github.com/zonemesh/peernet/internal/certkit"
)

// Config carries every tunable spec §6 names, plus the channel-level knobs
// SPEC_FULL's component design adds on top.
type Config struct {
	MyLegalName           certkit.LegalName
	EmailAddress          string
	CertificatesDirectory string
	KeyStorePassword      []byte
	TrustStorePassword    []byte
	PrivateKeyPassword    []byte // defaults to KeyStorePassword when unset
	// AllowedRemoteLegalNames distinguishes "unconfigured" from
	// "configured as empty": nil accepts any peer whose chain validates;
	// a non-nil pointer to an empty slice rejects every peer.
	AllowedRemoteLegalNames *[]certkit.LegalName
	PollInterval            time.Duration
	EnrolmentTimeout        time.Duration
	TLSSignatureScheme      certkit.SignatureScheme

	DoormanURL string

	ListenAddress      string
	CandidateAddresses []string
	OutboundQueueDepth int
	IdleTimeout        time.Duration
}

// ErrConfigInvalid is returned by Validate; cmd/peernode maps it to exit
// code 1.
var ErrConfigInvalid = fmt.Errorf("peernetcfg: invalid configuration")

// ApplyDefaults fills in every field spec §6 documents a default for.
// It must run before Validate.
func (c *Config) ApplyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Second
	}
	if len(c.PrivateKeyPassword) == 0 {
		c.PrivateKeyPassword = c.KeyStorePassword
	}
	if c.OutboundQueueDepth == 0 {
		c.OutboundQueueDepth = 256
	}
}

// Validate checks the fields the core cannot operate without. It does not
// check filesystem or network reachability — those fail naturally, later,
// with their own specific errors.
func (c *Config) Validate() error {
	if err := c.MyLegalName.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if c.CertificatesDirectory == "" {
		return fmt.Errorf("%w: certificates_directory is required", ErrConfigInvalid)
	}
	if len(c.KeyStorePassword) == 0 {
		return fmt.Errorf("%w: key_store_password is required", ErrConfigInvalid)
	}
	if len(c.TrustStorePassword) == 0 {
		return fmt.Errorf("%w: trust_store_password is required", ErrConfigInvalid)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrConfigInvalid)
	}
	return nil
}
