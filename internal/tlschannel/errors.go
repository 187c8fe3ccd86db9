package tlschannel

import "errors"

var (
	// ErrUnexpectedPeerIdentity is returned when the handshake completes
	// but the peer's legal name is not in the configured allow-list.
	ErrUnexpectedPeerIdentity = errors.New("tlschannel: peer legal name not in allow-list")

	// ErrPeerChainUntrusted is returned when the peer's certificate chain
	// does not validate against the configured trusted root.
	ErrPeerChainUntrusted = errors.New("tlschannel: peer certificate chain does not validate against the trusted root")

	// ErrNoPeerCertificate is returned when the handshake completes without
	// the peer presenting any certificate at all.
	ErrNoPeerCertificate = errors.New("tlschannel: peer presented no certificate")
)
