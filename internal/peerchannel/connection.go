package peerchannel

import (
	"crypto/x509"
	"encoding/hex"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/zonemesh/peernet/internal/amqpengine"
	"github.com/zonemesh/peernet/internal/certkit"
	"github.com/zonemesh/peernet/internal/tlschannel"
)

// connection is the actor that owns one peer connection end to end: it is
// the only goroutine allowed to touch its amqpengine.Engine. Every other
// caller communicates with it over sendCh; the connection's own loop
// goroutine is what reads the socket, feeds the engine, writes whatever
// the engine produces back to the socket, and resolves PeerMessage
// outcomes as dispositions arrive.
type connection struct {
	netConn         net.Conn
	engine          *amqpengine.Engine
	remoteAddress   string
	remoteLegalName certkit.LegalName
	remoteCert      *x509.Certificate

	onConnection *broadcaster[ConnectionChange]
	onReceive    *broadcaster[ReceivedMessage]

	sendCh chan *PeerMessage
	stopCh chan struct{}
	doneCh chan struct{}

	pending map[string]*PeerMessage // hex(delivery tag) -> message awaiting outcome
	logger  *zap.Logger
}

type connectionConfig struct {
	ServerMode       bool
	IdleTimeout      time.Duration
	OutboundQueueDepth int
	Logger           *zap.Logger
}

func newConnection(result *tlschannel.Result, remoteAddress string, localIdentity certkit.LegalName, cfg connectionConfig, onConnection *broadcaster[ConnectionChange], onReceive *broadcaster[ReceivedMessage]) *connection {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.OutboundQueueDepth
	if depth <= 0 {
		depth = 256
	}

	engine := amqpengine.NewEngine(amqpengine.Config{
		ServerMode:     cfg.ServerMode,
		LocalIdentity:  localIdentity.String(),
		RemoteIdentity: result.RemoteLegalName.String(),
		IdleTimeout:    cfg.IdleTimeout,
		Logger:         logger,
	})

	return &connection{
		netConn:         result.Conn,
		engine:          engine,
		remoteAddress:   remoteAddress,
		remoteLegalName: result.RemoteLegalName,
		remoteCert:      result.RemoteCert,
		onConnection:    onConnection,
		onReceive:       onReceive,
		sendCh:          make(chan *PeerMessage, depth),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		pending:         make(map[string]*PeerMessage),
		logger:          logger,
	}
}

// write enqueues msg for sending on this connection, failing fast rather
// than blocking when the outbound queue is full.
func (c *connection) write(msg *PeerMessage) error {
	if !msg.matchesConnection(c.remoteAddress, c.remoteLegalName) {
		return ErrMessageMisrouted
	}
	select {
	case c.sendCh <- msg:
		return nil
	case <-c.doneCh:
		return ErrClosed
	default:
		return ErrBackpressure
	}
}

// close asks the connection's loop goroutine to shut down and waits for it.
func (c *connection) close() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.doneCh
}

func (c *connection) loop() {
	defer close(c.doneCh)
	defer c.shutdown()

	c.engine.Start()
	c.flush()

	inboundCh := make(chan []byte, 16)
	readErrCh := make(chan error, 1)
	go c.readPump(inboundCh, readErrCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		// Outbound messages stay queued until the AMQP handshake is ready;
		// a nil channel is never selected.
		var sendCh chan *PeerMessage
		if c.engine.Ready() {
			sendCh = c.sendCh
		}
		select {
		case data, ok := <-inboundCh:
			if !ok {
				return
			}
			if err := c.engine.FeedInbound(data); err != nil {
				c.logger.Warn("amqp frame decode failed, closing connection", zap.Error(err))
				return
			}
			c.drainEngine()
			c.flush()

		case err := <-readErrCh:
			c.logger.Info("peer connection read ended", zap.String("remote_address", c.remoteAddress), zap.Error(err))
			return

		case msg := <-sendCh:
			c.sendOne(msg)
			c.flush()

		case now := <-ticker.C:
			c.engine.Tick(now)
			c.flush()

		case <-c.stopCh:
			return
		}
	}
}

func (c *connection) sendOne(msg *PeerMessage) {
	payload, err := encodeEnvelope(msg)
	if err != nil {
		c.logger.Error("encode outbound envelope", zap.Error(err))
		msg.resolve(Failed)
		return
	}
	tag, err := c.engine.EnqueueSend(payload)
	if err != nil {
		msg.resolve(Failed)
		return
	}
	c.pending[hex.EncodeToString(tag)] = msg
}

func (c *connection) drainEngine() {
	for {
		inbound, ok := c.engine.PopInbound()
		if !ok {
			break
		}
		if err := c.engine.Complete(inbound.DeliveryTag, true); err != nil {
			c.logger.Warn("accept inbound delivery", zap.Error(err))
		}
		received, err := decodeEnvelope(inbound.Payload)
		if err != nil {
			c.logger.Warn("decode inbound envelope", zap.Error(err))
			continue
		}
		received.RemoteAddress = c.remoteAddress
		c.onReceive.publish(received)
	}

	for {
		completion, ok := c.engine.PopCompletion()
		if !ok {
			break
		}
		key := hex.EncodeToString(completion.DeliveryTag)
		if msg, ok := c.pending[key]; ok {
			msg.resolve(completion.Outcome)
			delete(c.pending, key)
		}
	}
}

func (c *connection) flush() {
	out := c.engine.DrainOutbound()
	if len(out) == 0 {
		return
	}
	if _, err := c.netConn.Write(out); err != nil {
		c.logger.Info("peer connection write failed", zap.String("remote_address", c.remoteAddress), zap.Error(err))
	}
}

func (c *connection) readPump(inboundCh chan<- []byte, errCh chan<- error) {
	buf := make([]byte, 4096)
	for {
		n, err := c.netConn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case inboundCh <- chunk:
			case <-c.stopCh:
				return
			}
		}
		if err != nil {
			select {
			case errCh <- err:
			case <-c.stopCh:
			}
			return
		}
	}
}

// shutdown drains whatever the engine's own close() produced, resolves any
// still-pending deliveries and still-queued messages as failed, and closes
// the socket. It is safe to
// call once at the end of loop regardless of why the loop exited.
func (c *connection) shutdown() {
	c.engine.Close()
	c.flush()
	c.drainEngine()
	for key, msg := range c.pending {
		msg.resolve(Failed)
		delete(c.pending, key)
	}
	for drained := false; !drained; {
		select {
		case msg := <-c.sendCh:
			msg.resolve(Failed)
		default:
			drained = true
		}
	}
	c.netConn.Close()
}
