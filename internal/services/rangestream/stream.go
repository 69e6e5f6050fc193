// Package rangestream exposes a remote HTTP resource as a seekable byte
// stream. Bytes are paged in with "Range: bytes=<pos>-" requests; a seek
// only moves the cursor and the next read reconnects at the new offset.
package rangestream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"remotestream/internal/domain"
	"remotestream/internal/metrics"
)

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// State is the connection state of a Stream.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// connection is the single owner of an open response body.
type connection struct {
	state  State
	body   io.ReadCloser
	cancel context.CancelFunc
}

func (c *connection) release() {
	if c.state != Connected {
		return
	}
	_ = c.body.Close()
	c.cancel()
	*c = connection{}
}

// Option configures a Stream in New or Dial.
type Option func(*Stream)

// WithLogger sets the logger; the stream adds its uri attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithValidators seeds the ETag / Last-Modified the stream sends as
// If-Match / If-Unmodified-Since from its very first request.
func WithValidators(v domain.Validators) Option {
	return func(s *Stream) {
		s.validators = v
	}
}

// Stream is not safe for concurrent use; one consumer drives it at a time.
type Stream struct {
	uri    string
	client Doer
	logger *slog.Logger
	ctx    context.Context

	pos         uint64
	size        uint64
	sizeKnown   bool
	contentType string
	validators  domain.Validators
	conn        connection
	opened      bool
	closed      bool

	cloned atomic.Bool
}

var (
	_ io.ReadSeekCloser = (*Stream)(nil)
	_ io.Writer         = (*Stream)(nil)
)

// New records the resource and transport. It performs no I/O.
func New(uri string, client Doer, opts ...Option) *Stream {
	if client == nil {
		client = http.DefaultClient
	}
	s := &Stream{
		uri:    uri,
		client: client,
		logger: slog.Default(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("uri", uri))
	metrics.ActiveStreams.Inc()
	return s
}

// Dial creates a stream and performs its first request at offset 0.
func Dial(ctx context.Context, uri string, client Doer, opts ...Option) (*Stream, error) {
	s := New(uri, client, opts...)
	if err := s.Open(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Open connects at the current position unless a connection is already open.
func (s *Stream) Open(ctx context.Context) error {
	if s.closed {
		return invalidOperation("open after close")
	}
	if s.conn.state == Connected {
		return nil
	}
	return s.openAt(ctx, s.pos)
}

func (s *Stream) openAt(ctx context.Context, position uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// The body outlives this call, so the connection gets its own
	// cancellation; ctx only aborts the wait for headers.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, s.uri, nil)
	if err != nil {
		stop()
		cancel()
		return err
	}
	req.Header.Set("Range", rangeHeader(position))
	if s.validators.ETag != "" {
		req.Header.Set("If-Match", s.validators.ETag)
	}
	if s.validators.LastModified != "" {
		req.Header.Set("If-Unmodified-Since", s.validators.LastModified)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.RangeOpenDuration.Observe(time.Since(start).Seconds())
	if !stop() {
		if resp != nil {
			_ = resp.Body.Close()
		}
		cancel()
		metrics.RangeRequestsTotal.WithLabelValues("canceled").Inc()
		return ctx.Err()
	}
	if err != nil {
		cancel()
		metrics.RangeRequestsTotal.WithLabelValues("transport").Inc()
		s.logger.Debug("range request failed",
			slog.Uint64("position", position),
			slog.String("error", err.Error()),
		)
		return err
	}

	meta, err := checkResponse(resp, position)
	if err != nil {
		_ = resp.Body.Close()
		cancel()
		metrics.RangeRequestsTotal.WithLabelValues("protocol").Inc()
		s.logger.Warn("range response rejected",
			slog.Uint64("position", position),
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.size = meta.size
	s.sizeKnown = true
	if meta.contentType != "" {
		s.contentType = meta.contentType
	}
	if s.validators.ETag == "" {
		s.validators.ETag = meta.validators.ETag
	}
	if s.validators.LastModified == "" {
		s.validators.LastModified = meta.validators.LastModified
	}
	s.conn = connection{state: Connected, body: resp.Body, cancel: cancel}
	s.opened = true

	metrics.RangeRequestsTotal.WithLabelValues("ok").Inc()
	s.logger.Debug("range opened",
		slog.Uint64("position", position),
		slog.Int("status", resp.StatusCode),
		slog.Uint64("size", s.size),
	)
	return nil
}

// SeekTo moves the cursor. Moving it closes the open connection; staying
// put keeps it. No I/O is performed either way.
func (s *Stream) SeekTo(position uint64) {
	if position == s.pos {
		return
	}
	s.conn.release()
	s.logger.Debug("seek", slog.Uint64("from", s.pos), slog.Uint64("to", position))
	s.pos = position
	metrics.StreamSeeksTotal.Inc()
}

// Seek implements io.Seeker on top of SeekTo. io.SeekEnd needs a known size.
// Offsets that do not fit in an int64 are rejected.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	current := clampOffset(s.pos)
	var base uint64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		if !s.sizeKnown {
			return current, invalidOperation("seek from end before size is known")
		}
		base = s.size
	default:
		return current, invalidOperation("seek with unknown whence")
	}
	if base > math.MaxInt64 {
		return current, invalidOperation("seek base beyond int64 range")
	}
	if offset > 0 && int64(base) > math.MaxInt64-offset {
		return current, invalidOperation("seek beyond int64 range")
	}
	target := int64(base) + offset
	if target < 0 {
		return current, invalidOperation("seek to negative position")
	}
	s.SeekTo(uint64(target))
	return target, nil
}

func clampOffset(pos uint64) int64 {
	if pos > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(pos)
}

// SetContext installs the context Read uses.
func (s *Stream) SetContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx
}

// Read is ReadContext with the context installed by SetContext.
func (s *Stream) Read(p []byte) (int, error) {
	return s.ReadContext(s.ctx, p)
}

// ReadContext reads from the current position, reconnecting first when no
// connection is open. It returns (0, io.EOF) at the end of the resource
// without moving the position. A transport failure mid-body closes the
// connection so the next read reconnects where this one stopped.
func (s *Stream) ReadContext(ctx context.Context, p []byte) (int, error) {
	if s.closed {
		return 0, invalidOperation("read after close")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if s.conn.state == Disconnected {
		if s.sizeKnown && s.pos >= s.size {
			return 0, io.EOF
		}
		reconnect := s.opened
		if err := s.openAt(ctx, s.pos); err != nil {
			return 0, err
		}
		if reconnect {
			metrics.StreamReconnectsTotal.Inc()
		}
	}

	stop := context.AfterFunc(ctx, s.conn.cancel)
	n, err := s.conn.body.Read(p)
	s.pos += uint64(n)
	metrics.StreamBytesRead.Add(float64(n))

	if !stop() {
		s.conn.release()
		return n, ctx.Err()
	}
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	default:
		s.logger.Warn("stream read failed",
			slog.Uint64("position", s.pos),
			slog.String("error", err.Error()),
		)
		s.conn.release()
		return n, err
	}
}

// Close releases the connection. Calling it again is a no-op.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.release()
	metrics.ActiveStreams.Dec()
	return nil
}

// Size is the resource length from the last response, or 0 before any.
func (s *Stream) Size() uint64 { return s.size }

// ContentType is the media type the server last reported.
func (s *Stream) ContentType() string { return s.contentType }

// Position is the offset of the next byte Read returns.
func (s *Stream) Position() uint64 { return s.pos }

// Validators are the ETag and Last-Modified the stream pins requests to.
func (s *Stream) Validators() domain.Validators { return s.validators }

// State reports whether a connection is open.
func (s *Stream) State() State { return s.conn.state }

// SetSize always fails: the size comes from the server.
func (s *Stream) SetSize(uint64) error {
	return invalidOperation("set size")
}

// Write, Flush, OutputStreamAt and InputStreamAt are not supported; the
// stream is read-only and positioned by Seek.
func (s *Stream) Write([]byte) (int, error) {
	return 0, invalidOperation("write")
}

func (s *Stream) Flush() error {
	return invalidOperation("flush")
}

func (s *Stream) OutputStreamAt(uint64) (io.Writer, error) {
	return nil, invalidOperation("output stream")
}

func (s *Stream) InputStreamAt(uint64) (io.Reader, error) {
	return nil, invalidOperation("positional input stream")
}
