// Command peernode enrolls a node against a doorman registration authority
// and runs its AMQP peer channel, either as the passive (serve) or active
// (dial) side.
package main

import (
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/zonemesh/peernet/internal/credstore"
	"github.com/zonemesh/peernet/internal/peernetcfg"
	"github.com/zonemesh/peernet/internal/registration"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync() //nolint:errcheck

	os.Exit(run(logger))
}

func run(logger *zap.Logger) int {
	root := newRootCmd(logger)
	err := root.Execute()
	return exitCodeFor(err)
}

// exitCodeFor maps the error returned by a subcommand to the exit codes
// spec §6 enumerates for the enrolment CLI. serve/dial errors that don't
// match any of these kinds fall back to 1, a generic failure.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	var rejected *registration.ErrCertificateRequestRejected
	switch {
	case errors.Is(err, peernetcfg.ErrConfigInvalid):
		return 1
	case errors.Is(err, credstore.ErrStoreCorrupt), errors.Is(err, credstore.ErrBadPassword), errors.Is(err, credstore.ErrAliasMissing):
		return 2
	case errors.As(err, &rejected):
		return 3
	case errors.Is(err, registration.ErrChainUntrusted):
		return 4
	default:
		return 1
	}
}
