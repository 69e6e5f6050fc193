package ports

import (
	"context"
	"io"

	"remotestream/internal/domain"
)

// RemoteStream is a seekable view of a remote resource. Read uses the
// context installed by SetContext. Open connects at the current position
// ahead of the first Read.
type RemoteStream interface {
	io.ReadSeekCloser
	Open(ctx context.Context) error
	SetContext(context.Context)
	Size() uint64
	ContentType() string
	Validators() domain.Validators
}

// StreamOpener performs the first range request for url. Non-empty
// validators pin the stream to that version of the resource.
type StreamOpener interface {
	OpenStream(ctx context.Context, url string, validators domain.Validators) (RemoteStream, error)
}

// Resolver turns a registered source URL into a fetchable http(s) URL.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (string, error)
}
