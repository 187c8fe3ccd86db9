package registration

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zonemesh/peernet/internal/certkit"
)

// RequestID is the opaque identifier the doorman assigns a submitted CSR,
// persisted to certificate-request-id.txt so enrolment survives a restart.
type RequestID string

// NetworkRegistrationService is the doorman's registration API, narrowed to
// exactly the two operations the enrolment state machine drives.
type NetworkRegistrationService interface {
	// Submit uploads a PKCS#10 CSR and returns the doorman's request id.
	Submit(ctx context.Context, csrDER []byte) (RequestID, error)

	// RetrieveCertificates polls for the outcome of a submitted request. A
	// nil chain and nil error means "still pending" — the caller sleeps and
	// retries. A non-nil *ErrCertificateRequestRejected means the doorman
	// explicitly refused the request.
	RetrieveCertificates(ctx context.Context, id RequestID) (certkit.CertChain, error)
}

// HTTPDoorman implements NetworkRegistrationService against the doorman's
// HTTP API: POST /certificate to submit, GET /certificate/{id} to poll.
type HTTPDoorman struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDoorman builds an HTTPDoorman targeting baseURL. A nil httpClient
// defaults to http.DefaultClient.
func NewHTTPDoorman(baseURL string, httpClient *http.Client) *HTTPDoorman {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPDoorman{baseURL: strings.TrimRight(baseURL, "/"), client: httpClient}
}

func (d *HTTPDoorman) Submit(ctx context.Context, csrDER []byte) (RequestID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/certificate", bytes.NewReader(csrDER))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", &ErrPollTransient{Err: fmt.Errorf("submit CSR: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ErrPollTransient{Err: fmt.Errorf("read submit response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("submit CSR: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return RequestID(strings.TrimSpace(string(body))), nil
}

func (d *HTTPDoorman) RetrieveCertificates(ctx context.Context, id RequestID) (certkit.CertChain, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/certificate/"+string(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &ErrPollTransient{Err: fmt.Errorf("poll request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErrPollTransient{Err: fmt.Errorf("read poll response: %w", err)}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, nil // still pending
	case http.StatusOK:
		return parseCertificateZip(body)
	case http.StatusBadRequest, http.StatusGone:
		return nil, &ErrCertificateRequestRejected{Reason: strings.TrimSpace(string(body))}
	default:
		return nil, &ErrPollTransient{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

// certificate entry names in leaf-to-root order, matching the doorman's zip
// layout.
var certificateZipOrder = []string{"cordaclientca.cer", "cordaintermediateca.cer", "cordarootca.cer"}

func parseCertificateZip(body []byte) (certkit.CertChain, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("parse certificate zip: %w", err)
	}
	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		byName[f.Name] = f
	}

	var chain certkit.CertChain
	for _, name := range certificateZipOrder {
		f, ok := byName[name]
		if !ok {
			continue // intermediateCa is optional
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry %q: %w", name, err)
		}
		der, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read zip entry %q: %w", name, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse certificate entry %q: %w", name, err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("certificate zip contained no recognised entries")
	}
	return chain, nil
}
