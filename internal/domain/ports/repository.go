package ports

import (
	"context"

	"remotestream/internal/domain"
)

type SourceRepository interface {
	Create(ctx context.Context, r domain.SourceRecord) error
	Update(ctx context.Context, r domain.SourceRecord) error
	Get(ctx context.Context, id domain.SourceID) (domain.SourceRecord, error)
	List(ctx context.Context, filter domain.SourceFilter) ([]domain.SourceRecord, error)
	Delete(ctx context.Context, id domain.SourceID) error
}
