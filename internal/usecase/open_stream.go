package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"remotestream/internal/domain"
	"remotestream/internal/domain/ports"
)

type StreamResult struct {
	Stream ports.RemoteStream
	Record domain.SourceRecord
}

// OpenStream dials a registered source pinned to the validators recorded
// at registration, so a replaced upstream object fails instead of serving
// mixed bytes.
type OpenStream struct {
	Repo     ports.SourceRepository
	Resolver ports.Resolver
	Opener   ports.StreamOpener
	Logger   *slog.Logger
	Now      func() time.Time
}

func (uc OpenStream) Execute(ctx context.Context, id domain.SourceID) (StreamResult, error) {
	ctx, span := tracer.Start(ctx, "OpenStream")
	defer span.End()

	record, err := uc.Repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return StreamResult{}, err
		}
		return StreamResult{}, wrapRepo(err)
	}

	resolved, err := uc.Resolver.Resolve(ctx, record.URL)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return StreamResult{}, wrapResolve(err)
	}

	stream, err := uc.Opener.OpenStream(ctx, resolved, record.Validators)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrResourceChanged) {
			uc.markChanged(ctx, record, err)
		}
		return StreamResult{}, wrapStream(err)
	}
	return StreamResult{Stream: stream, Record: record}, nil
}

func (uc OpenStream) markChanged(ctx context.Context, record domain.SourceRecord, cause error) {
	if record.Status == domain.SourceChanged {
		return
	}
	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	ts := now().UTC()
	record.Status = domain.SourceChanged
	record.LastError = cause.Error()
	record.CheckedAt = ts
	record.UpdatedAt = ts
	if err := uc.Repo.Update(ctx, record); err != nil && uc.Logger != nil {
		uc.Logger.Warn("mark source changed failed",
			slog.String("id", string(record.ID)),
			slog.String("error", err.Error()),
		)
	}
}
