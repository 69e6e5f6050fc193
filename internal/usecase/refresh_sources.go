package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"remotestream/internal/domain"
	"remotestream/internal/domain/ports"
	"remotestream/internal/metrics"
)

// RefreshSources re-probes registered sources and records whether they
// still match the validators captured at registration.
type RefreshSources struct {
	Repo        ports.SourceRepository
	Resolver    ports.Resolver
	Opener      ports.StreamOpener
	Logger      *slog.Logger
	Interval    time.Duration
	Concurrency int
	// Attempts bounds probe retries on transport failures. Protocol
	// violations are never retried.
	Attempts   uint
	RetryDelay time.Duration
	Now        func() time.Time
	// OnStatusChange is called after a record's status changed and was saved.
	OnStatusChange func(domain.SourceRecord)
}

func (uc RefreshSources) Run(ctx context.Context) {
	interval := uc.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := uc.RefreshAll(ctx); err != nil && ctx.Err() == nil {
				uc.logger().Warn("refresh: list sources failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RefreshAll probes every source with bounded concurrency. Individual probe
// failures are recorded on the source, not returned.
func (uc RefreshSources) RefreshAll(ctx context.Context) error {
	records, err := uc.Repo.List(ctx, domain.SourceFilter{})
	if err != nil {
		return wrapRepo(err)
	}

	limit := uc.Concurrency
	if limit <= 0 {
		limit = 4
	}

	var (
		mu     sync.Mutex
		counts = make(map[domain.SourceStatus]int)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, record := range records {
		g.Go(func() error {
			updated := uc.refresh(gctx, record)
			mu.Lock()
			counts[updated.Status]++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	metrics.Sources.Reset()
	for status, n := range counts {
		metrics.Sources.WithLabelValues(string(status)).Set(float64(n))
	}
	return nil
}

// RefreshOne probes a single source and returns the saved record.
func (uc RefreshSources) RefreshOne(ctx context.Context, id domain.SourceID) (domain.SourceRecord, error) {
	record, err := uc.Repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SourceRecord{}, err
		}
		return domain.SourceRecord{}, wrapRepo(err)
	}
	return uc.refresh(ctx, record), nil
}

func (uc RefreshSources) refresh(ctx context.Context, record domain.SourceRecord) domain.SourceRecord {
	previous := record.Status
	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}

	probe, err := uc.probe(ctx, record.URL)
	ts := now().UTC()
	record.CheckedAt = ts
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return record
		}
		record.Status = domain.SourceError
		record.LastError = err.Error()
	case record.Validators.Differs(probe.validators) || record.Size != probe.size:
		record.Status = domain.SourceChanged
		record.LastError = ""
	default:
		record.Status = domain.SourceReady
		record.LastError = ""
	}
	if record.Status != previous {
		record.UpdatedAt = ts
	}
	metrics.SourceProbesTotal.WithLabelValues(string(record.Status)).Inc()

	if err := uc.Repo.Update(ctx, record); err != nil {
		uc.logger().Warn("refresh: update source failed",
			slog.String("id", string(record.ID)),
			slog.String("error", err.Error()),
		)
		return record
	}
	if record.Status != previous {
		uc.logger().Info("source status changed",
			slog.String("id", string(record.ID)),
			slog.String("from", string(previous)),
			slog.String("to", string(record.Status)),
		)
		if uc.OnStatusChange != nil {
			uc.OnStatusChange(record)
		}
	}
	return record
}

type probeResult struct {
	size       int64
	validators domain.Validators
}

func (uc RefreshSources) probe(ctx context.Context, raw string) (probeResult, error) {
	resolved, err := uc.Resolver.Resolve(ctx, raw)
	if err != nil {
		return probeResult{}, wrapResolve(err)
	}

	attempts := uc.Attempts
	if attempts == 0 {
		attempts = 3
	}
	delay := uc.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	return retry.DoWithData(
		func() (probeResult, error) {
			stream, err := uc.Opener.OpenStream(ctx, resolved, domain.Validators{})
			if err != nil {
				return probeResult{}, err
			}
			defer stream.Close()
			return probeResult{size: int64(stream.Size()), validators: stream.Validators()}, nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			uc.logger().Debug("refresh: probe retry",
				slog.String("url", raw),
				slog.Uint64("attempt", uint64(n+1)),
				slog.String("error", err.Error()),
			)
		}),
	)
}

func isTransient(err error) bool {
	if errors.Is(err, domain.ErrProtocol) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func (uc RefreshSources) logger() *slog.Logger {
	if uc.Logger != nil {
		return uc.Logger
	}
	return slog.Default()
}
