package peerchannel

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zonemesh/peernet/internal/certkit"
	"github.com/zonemesh/peernet/internal/tlschannel"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// ClientConfig configures the active side of a peer channel: a ring of
// candidate addresses to dial (for failover) plus the identity/policy the
// handshake enforces against whichever one answers.
type ClientConfig struct {
	CandidateAddresses []string
	LocalLegalName     certkit.LegalName
	Identity           tlschannel.Identity
	// AllowedRemoteLegalNames: nil accepts any peer whose chain validates;
	// a non-nil pointer to an empty slice rejects every peer.
	AllowedRemoteLegalNames *[]certkit.LegalName
	OutboundQueueDepth      int
	IdleTimeout             time.Duration
	HandshakeTimeout        time.Duration
	DialTimeout             time.Duration
	Logger                  *zap.Logger
}

func (c *ClientConfig) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.OutboundQueueDepth <= 0 {
		c.OutboundQueueDepth = 256
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Client is the active side of a peer channel: it dials through a ring of
// candidate addresses, reconnecting with exponential backoff and failing
// over to the next candidate when a dial or handshake fails (a dropped
// established connection retries the same candidate first), and buffers
// outbound messages FIFO while no connection is up.
type Client struct {
	cfg ClientConfig

	onConnection *broadcaster[ConnectionChange]
	onReceive    *broadcaster[ReceivedMessage]

	mu      sync.Mutex
	index   int
	backoff time.Duration
	conn    *connection
	outbox  []*PeerMessage

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewClient builds a Client; call Start to begin dialing.
func NewClient(cfg ClientConfig) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:          cfg,
		onConnection: newBroadcaster[ConnectionChange](),
		onReceive:    newBroadcaster[ReceivedMessage](),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start validates the client's candidate list and begins the dial/reconnect
// loop in the background. It returns an error instead of starting when
// there is nothing to dial.
func (c *Client) Start() error {
	if len(c.cfg.CandidateAddresses) == 0 {
		return ErrNoCandidateAddresses
	}
	go c.run()
	return nil
}

func (c *Client) run() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		addr := c.currentAddress()
		conn, err := c.connect(addr)
		if err != nil {
			c.cfg.Logger.Warn("dial failed", zap.String("address", addr), zap.Error(err))
			c.onConnection.publish(ConnectionChange{RemoteAddress: addr, Connected: false})
			c.advanceAddress()
			if !c.sleepBackoff() {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.backoff = 0
		c.mu.Unlock()

		c.flushOutbox(conn)
		conn.loop()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		// The connection was established, so a re-home to the same
		// address is tried before the ring advances to the next one.
		c.onConnection.publish(ConnectionChange{RemoteAddress: addr, RemoteCert: conn.remoteCert, Connected: false})

		select {
		case <-c.stopCh:
			return
		default:
		}
		if !c.sleepBackoff() {
			return
		}
	}
}

func (c *Client) connect(addr string) (*connection, error) {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	raw, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	hs := &tlschannel.Handshaker{
		Identity:    c.cfg.Identity,
		AllowedList: c.cfg.AllowedRemoteLegalNames,
		Logger:      c.cfg.Logger,
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()

	result, err := hs.Handshake(ctx, raw, false)
	if err != nil {
		raw.Close()
		return nil, err
	}

	conn := newConnection(result, addr, c.cfg.LocalLegalName, connectionConfig{
		ServerMode:         false,
		IdleTimeout:        c.cfg.IdleTimeout,
		OutboundQueueDepth: c.cfg.OutboundQueueDepth,
		Logger:             c.cfg.Logger,
	}, c.onConnection, c.onReceive)

	c.onConnection.publish(ConnectionChange{RemoteAddress: addr, RemoteCert: result.RemoteCert, Connected: true})
	return conn, nil
}

// currentAddress returns the candidate the ring is currently pointing at,
// without advancing it.
func (c *Client) currentAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.CandidateAddresses[c.index%len(c.cfg.CandidateAddresses)]
}

// advanceAddress moves the ring to the next candidate. Call only when the
// current candidate failed to dial or handshake; a connection that was
// established and later dropped retries the same candidate first.
func (c *Client) advanceAddress() {
	c.mu.Lock()
	c.index++
	c.mu.Unlock()
}

// sleepBackoff waits out the current backoff interval (1s floor, 30s cap,
// doubling each consecutive failure) and reports whether it woke up
// naturally (true) or because Close was called (false).
func (c *Client) sleepBackoff() bool {
	c.mu.Lock()
	if c.backoff == 0 {
		c.backoff = minBackoff
	} else {
		c.backoff *= 2
		if c.backoff > maxBackoff {
			c.backoff = maxBackoff
		}
	}
	wait := c.backoff
	c.mu.Unlock()

	select {
	case <-time.After(wait):
		return true
	case <-c.stopCh:
		return false
	}
}

// Write sends msg over the current connection, or buffers it FIFO if the
// client is between connections. ErrBackpressure is returned once the
// buffer reaches OutboundQueueDepth.
func (c *Client) Write(msg *PeerMessage) error {
	select {
	case <-c.stopCh:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		if len(c.outbox) >= c.cfg.OutboundQueueDepth {
			c.mu.Unlock()
			return ErrBackpressure
		}
		c.outbox = append(c.outbox, msg)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return conn.write(msg)
}

func (c *Client) flushOutbox(conn *connection) {
	c.mu.Lock()
	pending := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	for _, msg := range pending {
		if err := conn.write(msg); err != nil {
			msg.resolve(Failed)
		}
	}
}

// OnConnection subscribes to connection up/down events.
func (c *Client) OnConnection(buffer int) (<-chan ConnectionChange, func()) {
	return c.onConnection.subscribe(buffer)
}

// OnReceive subscribes to inbound application messages.
func (c *Client) OnReceive(buffer int) (<-chan ReceivedMessage, func()) {
	return c.onReceive.subscribe(buffer)
}

// Close stops the reconnect loop and tears down any live connection.
func (c *Client) Close() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.close()
	}
	<-c.doneCh

	c.mu.Lock()
	pending := c.outbox
	c.outbox = nil
	c.mu.Unlock()
	for _, msg := range pending {
		msg.resolve(Failed)
	}

	c.onConnection.closeAll()
	c.onReceive.closeAll()
}
