package rangestream

import (
	"errors"
	"fmt"
	"net/http"

	"remotestream/internal/domain"
)

var (
	// ErrProtocol matches every *ProtocolError.
	ErrProtocol = domain.ErrProtocol
	// ErrInvalidOperation reports caller misuse: write-path calls, setting
	// the size, a second live clone, or use after Close.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrResourceChanged matches a ProtocolError caused by a failed
	// If-Match / If-Unmodified-Since precondition.
	ErrResourceChanged = domain.ErrResourceChanged
)

const (
	ReasonExpectedPartial   = "expected partial content"
	ReasonRangesUnsupported = "range requests unsupported"
	ReasonMissingLength     = "missing content length"
	ReasonUnexpectedStatus  = "unexpected status"
)

// ProtocolError reports a response that breaks the range-request contract.
type ProtocolError struct {
	Reason   string
	Status   int
	Position uint64
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("range request at offset %d: %s (status %d)", e.Position, e.Reason, e.Status)
}

func (e *ProtocolError) Is(target error) bool {
	switch target {
	case ErrProtocol:
		return true
	case ErrResourceChanged:
		return e.Status == http.StatusPreconditionFailed
	}
	return false
}

func invalidOperation(op string) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, op)
}
