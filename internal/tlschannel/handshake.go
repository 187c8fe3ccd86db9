package tlschannel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/zonemesh/peernet/internal/certkit"
)

// Result is what a successful handshake yields: the live TLS connection,
// both endpoints' leaf certificates, and the peer's recovered legal name.
type Result struct {
	Conn            *tls.Conn
	LocalCert       *x509.Certificate
	RemoteCert      *x509.Certificate
	RemoteLegalName certkit.LegalName
}

// Handshaker enforces identity policy on top of a raw TLS handshake: who the
// peer is allowed to be, and whether its chain is trusted.
type Handshaker struct {
	Identity Identity
	// AllowedList distinguishes "no policy configured" from "policy
	// configured as empty": nil accepts any peer whose chain validates;
	// a non-nil pointer to an empty slice rejects every peer, matching an
	// operator who deliberately pinned the allow-list to nothing yet.
	AllowedList *[]certkit.LegalName
	Logger      *zap.Logger
}

func (h *Handshaker) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// Handshake completes a TLS handshake over conn (server side when
// serverMode, client side otherwise), then enforces chain trust and the
// allow-list before returning. On any failure the connection is closed and
// the returned error identifies the cause; callers should treat every
// returned error the same way — log it and tear down the attempt — the
// error type exists for tests and metrics, not differentiated recovery.
func (h *Handshaker) Handshake(ctx context.Context, conn net.Conn, serverMode bool) (*Result, error) {
	cfg, err := TLSConfig(h.Identity, serverMode)
	if err != nil {
		conn.Close()
		return nil, err
	}

	var tlsConn *tls.Conn
	if serverMode {
		tlsConn = tls.Server(conn, cfg)
	} else {
		tlsConn = tls.Client(conn, cfg)
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("tlschannel: handshake: %w", err)
	}

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		tlsConn.Close()
		return nil, ErrNoPeerCertificate
	}
	remoteChain := certkit.CertChain(state.PeerCertificates)
	remoteCert := remoteChain.Leaf()

	if err := certkit.ValidateChain(h.Identity.TrustedRoot, remoteChain, nil); err != nil {
		tlsConn.Close()
		h.logger().Error("peer chain failed validation", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPeerChainUntrusted, err)
	}

	remoteName := certkit.FromX500Principal(remoteCert.Subject)
	if h.AllowedList != nil && !legalNameAllowed(remoteName, *h.AllowedList) {
		tlsConn.Close()
		h.logger().Error("peer legal name rejected", zap.String("remote_legal_name", remoteName.String()))
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedPeerIdentity, remoteName)
	}

	return &Result{
		Conn:            tlsConn,
		LocalCert:       h.Identity.Chain.Leaf(),
		RemoteCert:      remoteCert,
		RemoteLegalName: remoteName,
	}, nil
}

func legalNameAllowed(name certkit.LegalName, allowed []certkit.LegalName) bool {
	for _, a := range allowed {
		if a == name {
			return true
		}
	}
	return false
}
