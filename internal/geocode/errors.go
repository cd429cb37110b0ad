package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/epimap/geodispatch/internal/providers"
	"github.com/epimap/geodispatch/pkg/httpclient"
	"github.com/epimap/geodispatch/pkg/resilience"
)

// Domain errors for the geocoding cascade
var (
	// ErrCancelled marks a caller-initiated abort. It is not a provider
	// failure and is excluded from failure metrics.
	ErrCancelled = errors.New("request cancelled")

	// ErrAllProvidersExhausted is the internal terminal state of the
	// failover cascade. It surfaces to callers wrapped in UnavailableError.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
)

// UnavailableError aggregates the per-provider failure reasons after every
// eligible candidate has been tried. Reasons are classified diagnostics,
// never raw upstream bodies, so credential material cannot leak through
// error responses.
type UnavailableError struct {
	Reasons []string
}

func (e *UnavailableError) Error() string {
	return "geocoding unavailable: " + strings.Join(e.Reasons, "; ")
}

func (e *UnavailableError) Unwrap() error {
	return ErrAllProvidersExhausted
}

// failureReason classifies a provider failure into a safe diagnostic string.
func failureReason(providerID string, err error, timeout time.Duration) string {
	var httpErr *httpclient.HTTPError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s: timeout after %s", providerID, timeout)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return fmt.Sprintf("%s: circuit open", providerID)
	case errors.Is(err, providers.ErrCredentialMissing):
		return fmt.Sprintf("%s: credential not configured", providerID)
	case errors.As(err, &httpErr):
		return fmt.Sprintf("%s: upstream status %d", providerID, httpErr.StatusCode)
	default:
		return fmt.Sprintf("%s: request failed", providerID)
	}
}
