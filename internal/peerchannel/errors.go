package peerchannel

import "errors"

var (
	// ErrMessageMisrouted is returned by write when a message's destination
	// address or legal name does not match the connection it is being
	// written to.
	ErrMessageMisrouted = errors.New("peerchannel: message destination does not match this connection")

	// ErrBackpressure is returned when the outbound queue is full; the
	// caller must retry rather than have the write block indefinitely.
	ErrBackpressure = errors.New("peerchannel: outbound queue is full")

	// ErrNotConnected is returned by Server.Write when no connection is
	// currently open to the requested remote address.
	ErrNotConnected = errors.New("peerchannel: no connection to the requested remote address")

	// ErrClosed is returned by Client.Write after Close has been called, and
	// may be returned by a write that races with its connection shutting
	// down.
	ErrClosed = errors.New("peerchannel: channel is closed")

	// ErrNoCandidateAddresses is returned by Client.Start when it is
	// configured with nothing to dial.
	ErrNoCandidateAddresses = errors.New("peerchannel: no candidate addresses configured")
)
