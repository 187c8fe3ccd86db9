// Package registration drives the one-shot enrolment bootstrap described in
// the node lifecycle: generate keys, submit a CSR to the doorman, poll until
// approved, validate the returned chain, and derive a TLS leaf — all
// resumable after a crash from on-disk state alone.
package registration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zonemesh/peernet/internal/certkit"
	"github.com/zonemesh/peernet/internal/credstore"
)

const (
	aliasSelfSignedPrivateKey = "SELF_SIGNED_PRIVATE_KEY"
	aliasClientCA             = "CLIENT_CA"
	aliasClientTLS            = "CLIENT_TLS"
	aliasRootCA               = "ROOT_CA"

	nodeKeystoreFile    = "nodekeystore.jks"
	sslKeystoreFile     = "sslkeystore.jks"
	trustStoreFile      = "truststore.jks"
	requestIDFile       = "certificate-request-id.txt"
	defaultPollInterval = 10 * time.Second
)

type state int

const (
	stateStart state = iota
	stateEnsureSelfSigned
	stateSubmitOrResume
	statePoll
	stateInstall
	stateDeriveTLS
	stateDone
)

// Config carries everything the enrolment state machine needs: identity,
// on-disk locations, the doorman client, and the knobs spec §6/§9 expose.
type Config struct {
	LegalName              certkit.LegalName
	Email                  string
	CertificatesDirectory  string
	KeyStorePassword       []byte
	TrustStorePassword     []byte
	PrivateKeyPassword     []byte // defaults to KeyStorePassword when empty
	PollInterval           time.Duration
	EnrolmentTimeout       time.Duration // 0 = unbounded
	SignatureScheme        certkit.SignatureScheme
	Service                NetworkRegistrationService
	Logger                 *zap.Logger
	Sleeper                Sleeper
}

func (c *Config) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if len(c.PrivateKeyPassword) == 0 {
		c.PrivateKeyPassword = c.KeyStorePassword
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Sleeper == nil {
		c.Sleeper = RealSleeper
	}
}

// Machine is the enrolment state machine. Call Run once; it resumes from
// whatever step the on-disk state implies.
type Machine struct {
	cfg   Config
	state state

	nodeStore  *credstore.Store
	sslStore   *credstore.Store
	trustStore *credstore.Store

	selfSigned *certkit.KeyPair
	requestID  RequestID
	issued     certkit.CertChain
}

// NewMachine constructs a Machine for cfg, applying stated defaults.
func NewMachine(cfg Config) *Machine {
	cfg.applyDefaults()
	return &Machine{cfg: cfg, state: stateStart}
}

func (m *Machine) path(name string) string {
	return filepath.Join(m.cfg.CertificatesDirectory, name)
}

// Run drives the machine to completion or a terminal error. It is safe to
// call again after a crash or cancellation: on-disk state determines where
// it resumes.
func (m *Machine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ErrInterrupted
		default:
		}

		switch m.state {
		case stateStart:
			if err := m.doStart(); err != nil {
				return err
			}
		case stateEnsureSelfSigned:
			if err := m.doEnsureSelfSigned(); err != nil {
				return err
			}
		case stateSubmitOrResume:
			if err := m.doSubmitOrResume(ctx); err != nil {
				return err
			}
		case statePoll:
			if err := m.doPoll(ctx); err != nil {
				return err
			}
		case stateInstall:
			if err := m.doInstall(); err != nil {
				return err
			}
		case stateDeriveTLS:
			if err := m.doDeriveTLS(); err != nil {
				return err
			}
		case stateDone:
			return nil
		}
	}
}

func (m *Machine) doStart() error {
	trustStore, err := credstore.Load(m.path(trustStoreFile), m.cfg.TrustStorePassword)
	if err != nil {
		return fmt.Errorf("registration: trust store unavailable: %w", err)
	}
	if !trustStore.Contains(aliasRootCA) {
		return fmt.Errorf("registration: trust store missing %s alias", aliasRootCA)
	}
	m.trustStore = trustStore

	nodeStore, err := credstore.LoadOrCreate(m.path(nodeKeystoreFile), m.cfg.KeyStorePassword)
	if err != nil {
		return fmt.Errorf("registration: load node keystore: %w", err)
	}
	m.nodeStore = nodeStore

	if nodeStore.Contains(aliasClientCA) {
		m.cfg.Logger.Info("already enrolled, nothing to do", zap.String("legal_name", m.cfg.LegalName.String()))
		m.state = stateDone
		return nil
	}
	m.state = stateEnsureSelfSigned
	return nil
}

func (m *Machine) doEnsureSelfSigned() error {
	if m.nodeStore.Contains(aliasSelfSignedPrivateKey) {
		kp, _, err := m.nodeStore.Get(aliasSelfSignedPrivateKey, m.cfg.PrivateKeyPassword)
		if err != nil {
			return fmt.Errorf("registration: recover self-signed key: %w", err)
		}
		m.selfSigned = kp
		m.state = stateSubmitOrResume
		return nil
	}

	keypair, err := certkit.GenerateKeyPair(m.cfg.SignatureScheme)
	if err != nil {
		return fmt.Errorf("registration: generate self-signed key: %w", err)
	}
	selfSignedCert, err := certkit.CreateSelfSignedCA(m.cfg.LegalName, keypair)
	if err != nil {
		return fmt.Errorf("registration: create self-signed certificate: %w", err)
	}
	if err := m.nodeStore.Put(aliasSelfSignedPrivateKey, keypair, m.cfg.PrivateKeyPassword, certkit.CertChain{selfSignedCert}); err != nil {
		return fmt.Errorf("registration: store self-signed key: %w", err)
	}
	if err := m.nodeStore.Save(m.path(nodeKeystoreFile), m.cfg.KeyStorePassword); err != nil {
		return fmt.Errorf("registration: persist node keystore: %w", err)
	}

	m.selfSigned = keypair
	m.cfg.Logger.Info("generated self-signed placeholder key")
	m.state = stateSubmitOrResume
	return nil
}

func (m *Machine) doSubmitOrResume(ctx context.Context) error {
	path := m.path(requestIDFile)
	if raw, err := os.ReadFile(path); err == nil {
		m.requestID = RequestID(strings.TrimSpace(string(raw)))
		m.cfg.Logger.Info("resuming outstanding certificate request", zap.String("request_id", string(m.requestID)))
		m.state = statePoll
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("registration: read request id: %w", err)
	}

	csrDER, err := certkit.CreateCSR(m.cfg.LegalName, m.cfg.Email, m.selfSigned)
	if err != nil {
		return fmt.Errorf("registration: create CSR: %w", err)
	}
	id, err := m.cfg.Service.Submit(ctx, csrDER)
	if err != nil {
		return fmt.Errorf("registration: submit CSR: %w", err)
	}
	if err := writeFileFsync(path, []byte(id)); err != nil {
		return fmt.Errorf("registration: persist request id: %w", err)
	}

	m.requestID = id
	m.cfg.Logger.Info("submitted certificate request", zap.String("request_id", string(id)))
	m.state = statePoll
	return nil
}

func (m *Machine) doPoll(ctx context.Context) error {
	pollCtx := ctx
	var cancel context.CancelFunc
	if m.cfg.EnrolmentTimeout > 0 {
		pollCtx, cancel = context.WithTimeout(ctx, m.cfg.EnrolmentTimeout)
		defer cancel()
	}

	for {
		chain, err := m.cfg.Service.RetrieveCertificates(pollCtx, m.requestID)
		if err != nil {
			var rejected *ErrCertificateRequestRejected
			if errors.As(err, &rejected) {
				m.cfg.Logger.Warn("certificate request rejected", zap.String("reason", rejected.Reason))
				os.Remove(m.path(requestIDFile))
				return rejected
			}
			var transient *ErrPollTransient
			if errors.As(err, &transient) {
				m.cfg.Logger.Warn("transient doorman poll failure, retrying", zap.Error(transient.Err))
				if sleepErr := m.cfg.Sleeper.Sleep(pollCtx, m.cfg.PollInterval); sleepErr != nil {
					return classifyPollWait(pollCtx, sleepErr)
				}
				continue
			}
			return fmt.Errorf("registration: poll doorman: %w", err)
		}

		if chain == nil {
			if sleepErr := m.cfg.Sleeper.Sleep(pollCtx, m.cfg.PollInterval); sleepErr != nil {
				return classifyPollWait(pollCtx, sleepErr)
			}
			continue
		}

		m.issued = chain
		m.state = stateInstall
		return nil
	}
}

// classifyPollWait turns a cancelled poll-sleep into the right sentinel: a
// timed-out poll context means the enrolment deadline elapsed, anything
// else means the caller's own context was cancelled.
func classifyPollWait(pollCtx context.Context, sleepErr error) error {
	if pollCtx.Err() == context.DeadlineExceeded {
		return ErrEnrolmentTimeout
	}
	return sleepErr
}

func (m *Machine) doInstall() error {
	roleOf := func(i int) certkit.Role {
		if i == len(m.issued)-1 {
			return certkit.RoleRootCA
		}
		if i == 0 {
			return certkit.RoleNodeCA
		}
		return certkit.RoleIntermediateCA
	}
	trustedRoot, err := m.trustStore.GetCert(aliasRootCA)
	if err != nil {
		return fmt.Errorf("registration: read trusted root: %w", err)
	}
	if err := certkit.ValidateChain(trustedRoot, m.issued, roleOf); err != nil {
		os.Remove(m.path(requestIDFile))
		return fmt.Errorf("%w: %v", ErrChainUntrusted, err)
	}

	if err := m.nodeStore.Put(aliasClientCA, m.selfSigned, m.cfg.PrivateKeyPassword, m.issued); err != nil {
		return fmt.Errorf("registration: store client CA: %w", err)
	}
	m.nodeStore.Delete(aliasSelfSignedPrivateKey)
	if err := m.nodeStore.Save(m.path(nodeKeystoreFile), m.cfg.KeyStorePassword); err != nil {
		return fmt.Errorf("registration: persist node keystore: %w", err)
	}

	m.cfg.Logger.Info("certificate request approved", zap.String("request_id", string(m.requestID)))
	m.state = stateDeriveTLS
	return nil
}

func (m *Machine) doDeriveTLS() error {
	sslStore, err := credstore.LoadOrCreate(m.path(sslKeystoreFile), m.cfg.KeyStorePassword)
	if err != nil {
		return fmt.Errorf("registration: load SSL keystore: %w", err)
	}
	m.sslStore = sslStore

	tlsKeypair, err := certkit.GenerateKeyPair(m.cfg.SignatureScheme)
	if err != nil {
		return fmt.Errorf("registration: generate TLS key: %w", err)
	}
	clientCA := m.issued.Leaf()
	tlsSubject := certkit.FromX500Principal(clientCA.Subject)
	tlsCert, err := certkit.CreateCertificate(certkit.RoleTLS, clientCA, m.selfSigned.Private, tlsSubject, tlsKeypair.Public, 0)
	if err != nil {
		return fmt.Errorf("registration: issue TLS leaf: %w", err)
	}

	tlsChain := append(certkit.CertChain{tlsCert}, m.issued...)
	if err := sslStore.Put(aliasClientTLS, tlsKeypair, m.cfg.PrivateKeyPassword, tlsChain); err != nil {
		return fmt.Errorf("registration: store TLS leaf: %w", err)
	}
	if err := sslStore.Save(m.path(sslKeystoreFile), m.cfg.KeyStorePassword); err != nil {
		return fmt.Errorf("registration: persist SSL keystore: %w", err)
	}

	os.Remove(m.path(requestIDFile))
	m.cfg.Logger.Info("enrolment complete", zap.String("legal_name", m.cfg.LegalName.String()))
	m.state = stateDone
	return nil
}

func writeFileFsync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
