package usecase

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"remotestream/internal/domain"
	"remotestream/internal/domain/ports"
)

// ---- repository ----

type fakeRepo struct {
	mu        sync.Mutex
	records   map[domain.SourceID]domain.SourceRecord
	createErr error
	getErr    error
	listErr   error
	updateErr error
	deleteErr error
	updates   []domain.SourceRecord
}

func newFakeRepo(records ...domain.SourceRecord) *fakeRepo {
	r := &fakeRepo{records: make(map[domain.SourceID]domain.SourceRecord)}
	for _, rec := range records {
		r.records[rec.ID] = rec
	}
	return r
}

func (r *fakeRepo) Create(ctx context.Context, rec domain.SourceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.records[rec.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.records[rec.ID] = rec
	return nil
}

func (r *fakeRepo) Update(ctx context.Context, rec domain.SourceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.records[rec.ID] = rec
	r.updates = append(r.updates, rec)
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id domain.SourceID) (domain.SourceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.SourceRecord{}, r.getErr
	}
	rec, ok := r.records[id]
	if !ok {
		return domain.SourceRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *fakeRepo) List(ctx context.Context, filter domain.SourceFilter) ([]domain.SourceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.SourceRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) Delete(ctx context.Context, id domain.SourceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *fakeRepo) get(id domain.SourceID) domain.SourceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}

// ---- resolver ----

type fakeResolver struct {
	err error
}

func (f fakeResolver) Resolve(ctx context.Context, raw string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "resolved:" + raw, nil
}

// ---- stream ----

type fakeStream struct {
	*bytes.Reader
	size        uint64
	contentType string
	validators  domain.Validators
	closed      bool
}

func (s *fakeStream) Open(context.Context) error     { return nil }
func (s *fakeStream) SetContext(context.Context)    {}
func (s *fakeStream) Size() uint64                  { return s.size }
func (s *fakeStream) ContentType() string           { return s.contentType }
func (s *fakeStream) Validators() domain.Validators { return s.validators }
func (s *fakeStream) Close() error                  { s.closed = true; return nil }

var _ ports.RemoteStream = (*fakeStream)(nil)

type fakeOpener struct {
	mu         sync.Mutex
	data       []byte
	typ        string
	validators domain.Validators
	errs       []error
	calls      []string
	seeds      []domain.Validators
	last       *fakeStream
}

func (f *fakeOpener) OpenStream(ctx context.Context, url string, validators domain.Validators) (ports.RemoteStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	f.seeds = append(f.seeds, validators)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &fakeStream{
		Reader:      bytes.NewReader(f.data),
		size:        uint64(len(f.data)),
		contentType: f.typ,
		validators:  f.validators,
	}
	f.last = s
	return s, nil
}

func (f *fakeOpener) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var _ io.ReadSeekCloser = (*fakeStream)(nil)
