package usecase

import (
	"context"
	"errors"

	"remotestream/internal/domain"
	"remotestream/internal/domain/ports"
)

type GetSource struct {
	Repo ports.SourceRepository
}

func (uc GetSource) Execute(ctx context.Context, id domain.SourceID) (domain.SourceRecord, error) {
	record, err := uc.Repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SourceRecord{}, err
		}
		return domain.SourceRecord{}, wrapRepo(err)
	}
	return record, nil
}

type ListSources struct {
	Repo ports.SourceRepository
}

func (uc ListSources) Execute(ctx context.Context, filter domain.SourceFilter) ([]domain.SourceRecord, error) {
	records, err := uc.Repo.List(ctx, filter)
	if err != nil {
		return nil, wrapRepo(err)
	}
	return records, nil
}
