package peerchannel

import (
	"crypto/x509"

	"github.com/zonemesh/peernet/internal/amqpengine"
	"github.com/zonemesh/peernet/internal/certkit"
)

// DeliveryOutcome is the terminal state a sent PeerMessage settles into.
type DeliveryOutcome = amqpengine.DeliveryOutcome

const (
	Acknowledged = amqpengine.OutcomeAcknowledged
	Rejected     = amqpengine.OutcomeRejected
	Failed       = amqpengine.OutcomeFailed
)

// ConnectionChange is fired whenever a connection to a peer comes up or
// goes down, carrying the peer's certificate on the Connected=true event so
// callers can inspect the identity without re-querying the channel.
type ConnectionChange struct {
	RemoteAddress string
	RemoteCert    *x509.Certificate
	Connected     bool
}

// ReceivedMessage is one inbound application message, already accepted at
// the AMQP layer by the time it reaches a subscriber.
type ReceivedMessage struct {
	RemoteAddress         string
	Topic                 string
	Payload               []byte
	ApplicationProperties map[string]any
}

// PeerMessage is a single outbound message handle. Outcome resolves
// exactly once, whether the message is acknowledged, rejected by the peer,
// or failed because the connection dropped before a disposition arrived.
type PeerMessage struct {
	Topic                 string
	Payload               []byte
	DestinationAddress    string
	DestinationLegalName  certkit.LegalName
	ApplicationProperties map[string]any

	outcome chan DeliveryOutcome
}

// NewPeerMessage builds a PeerMessage ready to hand to Client.Write or
// Server.Write. destinationLegalName may be the zero value when only
// address-based routing is in use.
func NewPeerMessage(topic string, payload []byte, destinationAddress string, destinationLegalName certkit.LegalName) *PeerMessage {
	return &PeerMessage{
		Topic:                topic,
		Payload:              payload,
		DestinationAddress:   destinationAddress,
		DestinationLegalName: destinationLegalName,
		outcome:              make(chan DeliveryOutcome, 1),
	}
}

// Outcome returns the channel the message's terminal delivery outcome is
// published on exactly once.
func (m *PeerMessage) Outcome() <-chan DeliveryOutcome {
	return m.outcome
}

func (m *PeerMessage) resolve(o DeliveryOutcome) {
	select {
	case m.outcome <- o:
	default:
	}
}

func (m *PeerMessage) matchesConnection(remoteAddress string, remoteLegalName certkit.LegalName) bool {
	if m.DestinationAddress != "" && m.DestinationAddress != remoteAddress {
		return false
	}
	var zero certkit.LegalName
	if m.DestinationLegalName != zero && m.DestinationLegalName != remoteLegalName {
		return false
	}
	return true
}
