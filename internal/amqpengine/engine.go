package amqpengine

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeliveryOutcome is the terminal state an outbound delivery settles into.
type DeliveryOutcome int

const (
	OutcomeAcknowledged DeliveryOutcome = iota
	OutcomeRejected
	OutcomeFailed
)

func (o DeliveryOutcome) String() string {
	switch o {
	case OutcomeAcknowledged:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Completion reports the terminal outcome of one outbound delivery,
// identified by the tag returned from EnqueueSend.
type Completion struct {
	DeliveryTag []byte
	Outcome     DeliveryOutcome
}

// ReceivedMessage is one inbound delivery handed up to the application.
// Complete must eventually be called with its DeliveryTag.
type ReceivedMessage struct {
	Payload     []byte
	DeliveryTag []byte
}

// Config carries the per-connection parameters spec §4.4 names. SASL
// credentials are accepted for interface completeness but not placed on
// the wire: the TLS+Identity handler (C5) has already authenticated the
// peer by the time an Engine is constructed, so there is nothing left for
// a SASL exchange to establish.
type Config struct {
	ServerMode     bool
	LocalIdentity  string
	RemoteIdentity string
	SASLUsername   string
	SASLPassword   string
	IdleTimeout    time.Duration
	InitialCredit  uint32
	Logger         *zap.Logger
	TraceFrames    bool
}

func (c *Config) applyDefaults() {
	if c.InitialCredit == 0 {
		c.InitialCredit = 100
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

const (
	senderLinkName   = "peernet-sender"
	receiverLinkName = "peernet-receiver"
	senderHandle     = uint32(0)
	receiverHandle   = uint32(1)
)

type handshakeState int

const (
	handshakeNotStarted handshakeState = iota
	handshakeSent
	handshakeReady
	handshakeClosed
)

type outboundDelivery struct {
	tag        []byte
	deliveryID uint32
}

// Engine wraps one AMQP 1.0 connection: a single session, a single sender
// link, and a single receiver link, presettled=false. It is not safe for
// concurrent use — callers own a single goroutine per connection, as does
// every other component in this package's concurrency model.
type Engine struct {
	cfg   Config
	state handshakeState

	outBuf []byte
	inBuf  []byte

	nextDeliveryID   uint32
	outboundPending  map[string]*outboundDelivery // hex(tag) -> delivery
	inboundByTag     map[string]uint32            // hex(tag) -> deliveryID

	pendingInbound     []ReceivedMessage
	pendingCompletions []Completion

	lastActivity time.Time
}

// NewEngine constructs an Engine. Call Start to kick off the handshake (for
// the client/active side) or simply begin feeding inbound bytes (for the
// server/passive side, which responds once it has seen the peer's Open).
func NewEngine(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:             cfg,
		outboundPending: make(map[string]*outboundDelivery),
		inboundByTag:    make(map[string]uint32),
		lastActivity:    time.Now(),
	}
}

// Start sends the initial open/begin/attach/flow sequence. Only the active
// (client) side calls this; the passive (server) side waits for the peer's
// Open to arrive via FeedInbound.
func (e *Engine) Start() {
	if e.cfg.ServerMode || e.state != handshakeNotStarted {
		return
	}
	e.sendHandshake()
}

func (e *Engine) sendHandshake() {
	e.send(Open{ContainerID: e.cfg.LocalIdentity, Hostname: e.cfg.RemoteIdentity, MaxFrameSize: 1 << 20, IdleTimeout: uint32(e.cfg.IdleTimeout / time.Millisecond)}.encode())
	e.send(Begin{NextOutgoingID: 0, IncomingWindow: 1 << 16, OutgoingWindow: 1 << 16}.encode())
	e.send(Attach{Name: senderLinkName, Handle: senderHandle, Role: false, TargetAddress: e.cfg.RemoteIdentity}.encode())
	e.send(Attach{Name: receiverLinkName, Handle: receiverHandle, Role: true, SourceAddress: e.cfg.LocalIdentity}.encode())
	e.send(Flow{Handle: receiverHandle, IncomingWindow: 1 << 16, OutgoingWindow: 1 << 16, LinkCredit: e.cfg.InitialCredit}.encode())
	e.state = handshakeSent
}

func (e *Engine) send(performativeBody []byte) {
	e.trace("send", performativeBody)
	e.outBuf = append(e.outBuf, encodeFrame(0, performativeBody)...)
}

func (e *Engine) sendTransfer(t Transfer, payload []byte) {
	body := t.encode(payload)
	e.trace("send", body)
	e.outBuf = append(e.outBuf, encodeFrame(0, body)...)
}

func (e *Engine) trace(direction string, body []byte) {
	if !e.cfg.TraceFrames {
		return
	}
	e.cfg.Logger.Info("amqp frame", zap.String("direction", direction), zap.Binary("body", body))
}

// FeedInbound supplies bytes read from the (already TLS-decrypted) socket.
// It copies what it needs out of data immediately, so the caller is free to
// reuse or pool the slice as soon as this call returns.
func (e *Engine) FeedInbound(data []byte) error {
	if e.state == handshakeClosed {
		return ErrClosed
	}
	e.inBuf = append(e.inBuf, data...)
	e.lastActivity = time.Now()

	for {
		body, consumed, ok, err := decodeFrame(e.inBuf)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		e.trace("recv", body)
		if len(body) > 0 {
			if err := e.handleFrameBody(body); err != nil {
				return err
			}
		}
		e.inBuf = e.inBuf[consumed:]
	}
	return nil
}

func (e *Engine) handleFrameBody(body []byte) error {
	raw, remainder, err := decodeValue(body)
	if err != nil {
		return err
	}
	d, ok := raw.(*Described)
	if !ok {
		return fmt.Errorf("amqpengine: frame body is not a described performative")
	}

	switch d.Descriptor {
	case codeOpen:
		if _, err := decodeOpen(d); err != nil {
			return err
		}
		if e.cfg.ServerMode && e.state == handshakeNotStarted {
			e.sendHandshake()
		}
	case codeBegin:
		if _, err := decodeBegin(d); err != nil {
			return err
		}
	case codeAttach:
		if _, err := decodeAttach(d); err != nil {
			return err
		}
		e.state = handshakeReady
	case codeFlow:
		if _, err := decodeFlow(d); err != nil {
			return err
		}
	case codeTransfer:
		t, payload, err := decodeTransfer(d, remainder)
		if err != nil {
			return err
		}
		e.inboundByTag[hex.EncodeToString(t.DeliveryTag)] = t.DeliveryID
		e.pendingInbound = append(e.pendingInbound, ReceivedMessage{Payload: payload, DeliveryTag: t.DeliveryTag})
	case codeDisposition:
		disp, err := decodeDisposition(d)
		if err != nil {
			return err
		}
		e.applyDisposition(disp)
	case codeClose:
		if _, err := decodeClose(d); err != nil {
			return err
		}
		e.failAllOutstanding()
		e.state = handshakeClosed
	default:
		return fmt.Errorf("amqpengine: unexpected performative descriptor 0x%x", d.Descriptor)
	}
	return nil
}

func (e *Engine) applyDisposition(disp Disposition) {
	var outcome DeliveryOutcome
	switch disp.Outcome {
	case "accepted":
		outcome = OutcomeAcknowledged
	default:
		outcome = OutcomeRejected
	}
	for hexTag, delivery := range e.outboundPending {
		if delivery.deliveryID >= disp.First && delivery.deliveryID <= disp.Last {
			e.pendingCompletions = append(e.pendingCompletions, Completion{DeliveryTag: delivery.tag, Outcome: outcome})
			delete(e.outboundPending, hexTag)
		}
	}
}

func (e *Engine) failAllOutstanding() {
	for hexTag, delivery := range e.outboundPending {
		e.pendingCompletions = append(e.pendingCompletions, Completion{DeliveryTag: delivery.tag, Outcome: OutcomeFailed})
		delete(e.outboundPending, hexTag)
	}
}

// DrainOutbound returns and clears the bytes the engine has produced since
// the last call, ready to be written to the socket.
func (e *Engine) DrainOutbound() []byte {
	out := e.outBuf
	e.outBuf = nil
	return out
}

// EnqueueSend hands payload to the sender link, stamping a fresh delivery
// tag, and returns it so the caller can correlate a later Completion.
func (e *Engine) EnqueueSend(payload []byte) ([]byte, error) {
	if e.state != handshakeReady {
		return nil, ErrNotOpen
	}
	tag := uuid.New()
	tagBytes := tag[:]

	id := e.nextDeliveryID
	e.nextDeliveryID++
	e.outboundPending[hex.EncodeToString(tagBytes)] = &outboundDelivery{tag: tagBytes, deliveryID: id}

	e.sendTransfer(Transfer{Handle: senderHandle, DeliveryID: id, DeliveryTag: tagBytes}, payload)
	return tagBytes, nil
}

// Complete signals accept/reject for an inbound delivery identified by
// deliveryTag, triggering the corresponding disposition frame.
func (e *Engine) Complete(deliveryTag []byte, accepted bool) error {
	key := hex.EncodeToString(deliveryTag)
	id, ok := e.inboundByTag[key]
	if !ok {
		return ErrUnknownDeliveryTag
	}
	delete(e.inboundByTag, key)

	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	e.send(Disposition{Role: true, First: id, Last: id, Settled: true, Outcome: outcome}.encode())
	return nil
}

// PopInbound removes and returns the oldest queued inbound message, FIFO.
func (e *Engine) PopInbound() (ReceivedMessage, bool) {
	if len(e.pendingInbound) == 0 {
		return ReceivedMessage{}, false
	}
	msg := e.pendingInbound[0]
	e.pendingInbound = e.pendingInbound[1:]
	return msg, true
}

// PopCompletion removes and returns the oldest queued delivery outcome,
// FIFO.
func (e *Engine) PopCompletion() (Completion, bool) {
	if len(e.pendingCompletions) == 0 {
		return Completion{}, false
	}
	c := e.pendingCompletions[0]
	e.pendingCompletions = e.pendingCompletions[1:]
	return c, true
}

// Ready reports whether the handshake has completed and application
// messages can be sent.
func (e *Engine) Ready() bool {
	return e.state == handshakeReady
}

// Tick runs protocol timers (currently: idle-timeout keepalive) and
// returns the next deadline Tick should be called by.
func (e *Engine) Tick(now time.Time) time.Time {
	if e.cfg.IdleTimeout <= 0 || e.state == handshakeClosed {
		return time.Time{}
	}
	deadline := e.lastActivity.Add(e.cfg.IdleTimeout)
	if !now.Before(deadline) {
		e.outBuf = append(e.outBuf, encodeFrame(0, nil)...) // empty frame: keepalive
		e.lastActivity = now
		deadline = now.Add(e.cfg.IdleTimeout)
	}
	return deadline
}

// Close sends the close performative, drains final outbound bytes into the
// buffer, and fails every outstanding outbound delivery that never
// resolved.
func (e *Engine) Close() {
	if e.state == handshakeClosed {
		return
	}
	e.send(Close{}.encode())
	e.failAllOutstanding()
	e.state = handshakeClosed
}
