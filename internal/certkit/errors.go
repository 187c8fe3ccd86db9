package certkit

import "errors"

// Error kinds from spec §4.2/§7. Each is a distinct sentinel so callers can
// errors.Is/errors.As rather than string-match.
var (
	ErrChainDoesNotTerminateAtRoot = errors.New("certkit: chain does not terminate at the trusted root")
	ErrSignatureInvalid            = errors.New("certkit: signature invalid")
	ErrNotYetValid                 = errors.New("certkit: certificate not yet valid")
	ErrExpired                     = errors.New("certkit: certificate expired")
	ErrRoleMismatch                = errors.New("certkit: key usage inconsistent with role")
	ErrNoValidityOverlap           = errors.New("certkit: no validity overlap between issuer and requested lifetime")
)
