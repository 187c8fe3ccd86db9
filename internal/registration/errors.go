package registration

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyEnrolled names the case of a node keystore that already
	// holds CLIENT_CA. Run does not return it: that case is a no-op, Run
	// logs it and returns nil.
	ErrAlreadyEnrolled = errors.New("registration: node is already enrolled")

	// ErrInterrupted marks a cancellation during a cancellable sleep
	// (context cancelled while polling or backing off). No on-disk state is
	// lost: the next Run resumes from the same step.
	ErrInterrupted = errors.New("registration: enrolment interrupted")

	// ErrEnrolmentTimeout is returned when Config.EnrolmentTimeout is non-zero and
	// the doorman has not approved the request before it elapses. Unlike
	// PollTransient errors this is fatal: it does not retry on its own.
	ErrEnrolmentTimeout = errors.New("registration: enrolment timed out waiting for doorman approval")

	// ErrChainUntrusted is returned by Install when the doorman-issued
	// chain does not validate against the configured trusted root.
	ErrChainUntrusted = errors.New("registration: issued certificate chain does not terminate at the trusted root")
)

// ErrCertificateRequestRejected is returned when the doorman explicitly
// rejects a certificate signing request, as opposed to leaving it pending.
type ErrCertificateRequestRejected struct {
	Reason string
}

func (e *ErrCertificateRequestRejected) Error() string {
	return fmt.Sprintf("registration: certificate request rejected: %s", e.Reason)
}

// ErrPollTransient wraps a transient failure while polling the doorman
// (network blip, 5xx). Callers retry after pollInterval rather than
// treating it as fatal.
type ErrPollTransient struct {
	Err error
}

func (e *ErrPollTransient) Error() string {
	return fmt.Sprintf("registration: transient poll failure: %v", e.Err)
}

func (e *ErrPollTransient) Unwrap() error { return e.Err }
