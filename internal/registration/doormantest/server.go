// Package doormantest provides an in-memory fake of the doorman
// registration authority's HTTP API, for exercising the enrolment state
// machine without a real compatibility-zone deployment.
package doormantest

import (
	"archive/zip"
	"bytes"
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zonemesh/peernet/internal/certkit"
)

type requestState int

const (
	statePending requestState = iota
	stateApproved
	stateRejected
)

type pendingRequest struct {
	state  requestState
	csrDER []byte
	chain  certkit.CertChain
	reason string
}

// Server is a gin-backed fake doorman. It holds submitted CSRs in memory and
// replies 404 until a request is explicitly approved or rejected, so tests
// can exercise the "not ready" retry path deterministically.
type Server struct {
	mu       sync.Mutex
	requests map[string]*pendingRequest

	engine *gin.Engine
	http   *httptest.Server
}

// NewServer constructs and starts a fake doorman listening on a local
// loopback address.
func NewServer() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{requests: make(map[string]*pendingRequest)}

	engine := gin.New()
	engine.POST("/certificate", s.handleSubmit)
	engine.GET("/certificate/:id", s.handlePoll)
	s.engine = engine
	s.http = httptest.NewServer(engine)
	return s
}

// URL is the base URL a registration.HTTPDoorman should target.
func (s *Server) URL() string {
	return s.http.URL
}

// Close shuts down the underlying test HTTP server.
func (s *Server) Close() {
	s.http.Close()
}

func (s *Server) handleSubmit(c *gin.Context) {
	der, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "read body: %v", err)
		return
	}
	if _, err := x509.ParseCertificateRequest(der); err != nil {
		c.String(http.StatusBadRequest, "invalid CSR: %v", err)
		return
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.requests[id] = &pendingRequest{state: statePending, csrDER: der}
	s.mu.Unlock()

	c.String(http.StatusOK, "%s", id)
}

func (s *Server) handlePoll(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	req, ok := s.requests[id]
	s.mu.Unlock()
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	switch req.state {
	case statePending:
		c.Status(http.StatusNotFound)
	case stateRejected:
		c.String(http.StatusBadRequest, "%s", req.reason)
	case stateApproved:
		zipBytes, err := buildCertificateZip(req.chain)
		if err != nil {
			c.String(http.StatusInternalServerError, "build zip: %v", err)
			return
		}
		c.Data(http.StatusOK, "application/zip", zipBytes)
	}
}

// Approve signs every currently pending CSR with issue (typically a closure
// over a root certificate + signer built with certkit) and marks the
// request approved, to be answered on the next poll.
func (s *Server) Approve(issue func(csrDER []byte) (certkit.CertChain, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.state != statePending {
			continue
		}
		chain, err := issue(req.csrDER)
		if err != nil {
			return err
		}
		req.state = stateApproved
		req.chain = chain
	}
	return nil
}

// Reject marks every currently pending request as rejected with reason.
func (s *Server) Reject(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.state == statePending {
			req.state = stateRejected
			req.reason = reason
		}
	}
}

// PendingCount reports how many requests are still awaiting a decision.
func (s *Server) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, req := range s.requests {
		if req.state == statePending {
			n++
		}
	}
	return n
}

func buildCertificateZip(chain certkit.CertChain) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, cert := range chain {
		var name string
		switch {
		case i == 0:
			name = "cordaclientca.cer"
		case i == len(chain)-1:
			name = "cordarootca.cer"
		default:
			name = "cordaintermediateca.cer"
		}
		w, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(cert.Raw); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
