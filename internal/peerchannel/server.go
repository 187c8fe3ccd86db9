package peerchannel

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zonemesh/peernet/internal/certkit"
	"github.com/zonemesh/peernet/internal/tlschannel"
)

// ServerConfig configures the passive side of a peer channel: the address
// it listens on and the identity/policy it enforces on every inbound
// connection.
type ServerConfig struct {
	ListenAddress  string
	LocalLegalName certkit.LegalName
	Identity       tlschannel.Identity
	// AllowedRemoteLegalNames: nil accepts any peer whose chain validates;
	// a non-nil pointer to an empty slice rejects every peer.
	AllowedRemoteLegalNames *[]certkit.LegalName
	OutboundQueueDepth      int
	IdleTimeout             time.Duration
	HandshakeTimeout        time.Duration
	AcceptRate              float64 // accepted connections per second (burst of 1), 0 = default of 50
	Logger                  *zap.Logger
}

func (c *ServerConfig) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.AcceptRate == 0 {
		c.AcceptRate = 50
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Server is the passive, accept-only side of a peer channel. It holds one
// connection per currently-connected remote address and broadcasts
// ConnectionChange / ReceivedMessage events to any number of subscribers.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	limiter  *rate.Limiter

	onConnection *broadcaster[ConnectionChange]
	onReceive    *broadcaster[ReceivedMessage]

	mu    sync.Mutex
	conns map[string]*connection

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewServer builds a Server; call Listen to start accepting.
func NewServer(cfg ServerConfig) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg:          cfg,
		limiter:      rate.NewLimiter(rate.Limit(cfg.AcceptRate), 1),
		onConnection: newBroadcaster[ConnectionChange](),
		onReceive:    newBroadcaster[ReceivedMessage](),
		conns:        make(map[string]*connection),
		stopCh:       make(chan struct{}),
	}
}

// Listen binds the configured address and starts the accept loop.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return err
	}
	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the listener's bound address, useful when ListenAddress
// used port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.cfg.Logger.Warn("accept failed", zap.Error(err))
				continue
			}
		}
		if err := s.limiter.Wait(context.Background()); err != nil {
			raw.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleAccept(raw)
	}
}

func (s *Server) handleAccept(raw net.Conn) {
	defer s.wg.Done()

	remoteAddress := raw.RemoteAddr().String()
	hs := &tlschannel.Handshaker{
		Identity:    s.cfg.Identity,
		AllowedList: s.cfg.AllowedRemoteLegalNames,
		Logger:      s.cfg.Logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
	defer cancel()

	result, err := hs.Handshake(ctx, raw, true)
	if err != nil {
		s.cfg.Logger.Error("inbound handshake rejected", zap.String("remote_address", remoteAddress), zap.Error(err))
		s.onConnection.publish(ConnectionChange{RemoteAddress: remoteAddress, Connected: false})
		return
	}

	conn := newConnection(result, remoteAddress, s.cfg.LocalLegalName, connectionConfig{
		ServerMode:         true,
		IdleTimeout:        s.cfg.IdleTimeout,
		OutboundQueueDepth: s.cfg.OutboundQueueDepth,
		Logger:             s.cfg.Logger,
	}, s.onConnection, s.onReceive)

	s.mu.Lock()
	s.conns[remoteAddress] = conn
	s.mu.Unlock()

	s.onConnection.publish(ConnectionChange{RemoteAddress: remoteAddress, RemoteCert: result.RemoteCert, Connected: true})

	conn.loop()

	s.mu.Lock()
	if s.conns[remoteAddress] == conn {
		delete(s.conns, remoteAddress)
	}
	s.mu.Unlock()
	s.onConnection.publish(ConnectionChange{RemoteAddress: remoteAddress, RemoteCert: result.RemoteCert, Connected: false})
}

// Write sends msg over the existing connection to remoteAddress, returning
// ErrNotConnected if there is none.
func (s *Server) Write(remoteAddress string, msg *PeerMessage) error {
	s.mu.Lock()
	conn := s.conns[remoteAddress]
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.write(msg)
}

// OnConnection subscribes to connection up/down events.
func (s *Server) OnConnection(buffer int) (<-chan ConnectionChange, func()) {
	return s.onConnection.subscribe(buffer)
}

// OnReceive subscribes to inbound application messages across every
// connection the server holds.
func (s *Server) OnReceive(buffer int) (<-chan ReceivedMessage, func()) {
	return s.onReceive.subscribe(buffer)
}

// Stop closes the listener and every open connection, then waits for all
// server goroutines to exit.
func (s *Server) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	s.wg.Wait()
	s.onConnection.closeAll()
	s.onReceive.closeAll()
}
