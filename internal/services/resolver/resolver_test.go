package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotestream/internal/domain"
)

type fakePresigner struct {
	bucket  string
	key     string
	expires time.Duration
	err     error
}

func (f *fakePresigner) PresignGetObject(_ context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = *params.Bucket
	f.key = *params.Key
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + f.bucket + "/" + f.key + "?sig=1"}, nil
}

func TestResolveHTTP(t *testing.T) {
	r := New()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "http", raw: "http://cdn.example/a.mp4", want: "http://cdn.example/a.mp4"},
		{name: "https trimmed", raw: "  https://cdn.example/a.mp4?x=1 ", want: "https://cdn.example/a.mp4?x=1"},
		{name: "missing host", raw: "http:///a.mp4", wantErr: domain.ErrInvalidURL},
		{name: "missing scheme", raw: "cdn.example/a.mp4", wantErr: domain.ErrInvalidURL},
		{name: "ftp", raw: "ftp://cdn.example/a.mp4", wantErr: domain.ErrInvalidURL},
		{name: "s3 unconfigured", raw: "s3://bucket/a.mp4", wantErr: domain.ErrUnsupported},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tc.raw)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveS3Presigns(t *testing.T) {
	fake := &fakePresigner{}
	r := newWithPresigner(fake, 0)

	got, err := r.Resolve(context.Background(), "s3://media/movies/clip.mp4")
	require.NoError(t, err)

	assert.Equal(t, "https://signed.example/media/movies/clip.mp4?sig=1", got)
	assert.Equal(t, "media", fake.bucket)
	assert.Equal(t, "movies/clip.mp4", fake.key)
	assert.Equal(t, defaultPresignExpiry, fake.expires)
}

func TestResolveS3Errors(t *testing.T) {
	errSign := errors.New("no credentials")
	r := newWithPresigner(&fakePresigner{err: errSign}, time.Minute)

	_, err := r.Resolve(context.Background(), "s3://media/clip.mp4")
	require.ErrorIs(t, err, errSign)

	_, err = r.Resolve(context.Background(), "s3://media/")
	require.ErrorIs(t, err, domain.ErrInvalidURL)
}

func TestNewS3PresignsAgainstCustomEndpoint(t *testing.T) {
	r, err := NewS3(context.Background(), S3Config{
		Endpoint:      "http://minio.local:9000",
		Region:        "us-east-1",
		AccessKeyID:   "AKIDEXAMPLE",
		AccessSecret:  "secret",
		UsePathStyle:  true,
		PresignExpiry: 15 * time.Minute,
	})
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "s3://media/clip.mp4")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "http://minio.local:9000/media/clip.mp4?"), got)
	assert.Contains(t, got, "X-Amz-Signature=")
	assert.Contains(t, got, "X-Amz-Expires=900")
}

func TestS3ConfigEnabled(t *testing.T) {
	assert.False(t, S3Config{}.Enabled())
	assert.True(t, S3Config{Region: "eu-west-1", AccessKeyID: "id"}.Enabled())
}
