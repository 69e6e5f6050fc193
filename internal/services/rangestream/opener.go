package rangestream

import (
	"context"
	"log/slog"

	"remotestream/internal/domain"
	"remotestream/internal/domain/ports"
)

// Opener dials streams over a shared client.
type Opener struct {
	client Doer
	logger *slog.Logger
}

var _ ports.StreamOpener = (*Opener)(nil)

func NewOpener(client Doer, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{client: client, logger: logger}
}

func (o *Opener) OpenStream(ctx context.Context, url string, validators domain.Validators) (ports.RemoteStream, error) {
	s, err := Dial(ctx, url, o.client, WithLogger(o.logger), WithValidators(validators))
	if err != nil {
		return nil, err
	}
	return s, nil
}
