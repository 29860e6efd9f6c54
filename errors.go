package ledgerq

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceUnavailable signals that a collaborator needed to answer
	// the request could not be constructed. No response is produced and
	// the caller should retry later.
	ErrServiceUnavailable = errors.New("query service unavailable")

	// ErrBlockNotFound is returned by storage for heights that are not
	// committed.
	ErrBlockNotFound = errors.New("block not found")

	// ErrStreamClosed is returned by a BlockSource after Close or after
	// its request context was canceled.
	ErrStreamClosed = errors.New("block stream closed")
)

// AnomalyError describes an error-shaped value found where the live
// commit feed should only carry blocks. Anomalies are logged and
// dropped; they are never forwarded to clients.
type AnomalyError struct {
	Reason string
	Height uint64
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("anomaly in block stream after height %d: %s", e.Height, e.Reason)
}

// NewAnomalyError creates a new AnomalyError.
func NewAnomalyError(height uint64, reason string) *AnomalyError {
	return &AnomalyError{Height: height, Reason: reason}
}

// IsAnomaly checks whether an error is an AnomalyError and returns it.
func IsAnomaly(err error) (*AnomalyError, bool) {
	var a *AnomalyError
	if errors.As(err, &a) {
		return a, true
	}
	return nil, false
}
