package usecase

import (
	"context"
	"errors"

	"remotestream/internal/domain"
	"remotestream/internal/domain/ports"
)

type DeleteSource struct {
	Repo ports.SourceRepository
}

func (uc DeleteSource) Execute(ctx context.Context, id domain.SourceID) error {
	if err := uc.Repo.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return wrapRepo(err)
	}
	return nil
}
