package usecase

import (
	"errors"
	"fmt"

	"remotestream/internal/domain"
)

var (
	ErrStream     = errors.New("stream error")
	ErrRepository = errors.New("repository error")
	ErrResolve    = errors.New("resolve error")
	ErrInvalidURL = domain.ErrInvalidURL
)

// wrapStream keeps the cause in the chain so callers can still match
// domain.ErrProtocol, domain.ErrResourceChanged or context errors.
func wrapStream(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStream, err)
}

func wrapRepo(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRepository, err)
}

func wrapResolve(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrUnsupported) || errors.Is(err, domain.ErrInvalidURL) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrResolve, err)
}
