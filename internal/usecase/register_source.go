package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"remotestream/internal/domain"
	"remotestream/internal/domain/ports"
	"remotestream/internal/telemetry"
)

// sniffLimit is how many leading bytes content sniffing may consume.
const sniffLimit = 3072

var tracer = telemetry.Tracer("usecase")

type RegisterSource struct {
	Repo     ports.SourceRepository
	Resolver ports.Resolver
	Opener   ports.StreamOpener
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() domain.SourceID
}

type RegisterSourceInput struct {
	URL  string
	Name string
	Tags []string
}

func (uc RegisterSource) Execute(ctx context.Context, input RegisterSourceInput) (record domain.SourceRecord, err error) {
	ctx, span := tracer.Start(ctx, "RegisterSource")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	raw := strings.TrimSpace(input.URL)
	if err := validateURL(raw); err != nil {
		return domain.SourceRecord{}, err
	}

	resolved, err := uc.Resolver.Resolve(ctx, raw)
	if err != nil {
		return domain.SourceRecord{}, wrapResolve(err)
	}

	stream, err := uc.Opener.OpenStream(ctx, resolved, domain.Validators{})
	if err != nil {
		return domain.SourceRecord{}, wrapStream(err)
	}
	defer stream.Close()
	stream.SetContext(ctx)

	contentType := stream.ContentType()
	if needsSniff(contentType) {
		if mt, err := mimetype.DetectReader(io.LimitReader(stream, sniffLimit)); err == nil {
			contentType = mt.String()
		}
	}

	name := normalizeName(input.Name)
	if name == "" {
		name = normalizeName(deriveName(raw))
	}

	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	newID := uc.NewID
	if newID == nil {
		newID = func() domain.SourceID { return domain.SourceID(uuid.NewString()) }
	}

	ts := now().UTC()
	record = domain.SourceRecord{
		ID:          newID(),
		Name:        name,
		URL:         raw,
		Status:      domain.SourceReady,
		Size:        int64(stream.Size()),
		ContentType: contentType,
		Validators:  stream.Validators(),
		Tags:        normalizeTags(input.Tags),
		CreatedAt:   ts,
		UpdatedAt:   ts,
		CheckedAt:   ts,
	}
	if err := record.Validate(); err != nil {
		return domain.SourceRecord{}, err
	}

	if err := uc.Repo.Create(ctx, record); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.SourceRecord{}, err
		}
		return domain.SourceRecord{}, wrapRepo(err)
	}

	span.SetAttributes(
		attribute.String("source.id", string(record.ID)),
		attribute.Int64("source.size", record.Size),
	)
	if uc.Logger != nil {
		uc.Logger.Info("source registered",
			slog.String("id", string(record.ID)),
			slog.String("name", record.Name),
			slog.String("size", humanize.IBytes(uint64(record.Size))),
			slog.String("contentType", record.ContentType),
		)
	}
	return record, nil
}

func needsSniff(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return ct == "" || strings.HasPrefix(ct, "application/octet-stream") || strings.HasPrefix(ct, "binary/octet-stream")
}
