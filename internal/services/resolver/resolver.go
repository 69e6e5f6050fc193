// Package resolver maps registered source URLs to fetchable http(s) URLs.
// s3://bucket/key sources are turned into presigned GET URLs.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"remotestream/internal/domain"
	"remotestream/internal/domain/ports"
)

const defaultPresignExpiry = 6 * time.Hour

type S3Config struct {
	Endpoint      string
	Region        string
	AccessKeyID   string
	AccessSecret  string
	UsePathStyle  bool
	PresignExpiry time.Duration
}

func (c S3Config) Enabled() bool {
	return c.Region != "" && c.AccessKeyID != ""
}

type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Resolver struct {
	presigner presigner
	expiry    time.Duration
}

var _ ports.Resolver = (*Resolver)(nil)

// New returns a resolver that only accepts http(s) URLs.
func New() *Resolver {
	return &Resolver{}
}

// NewS3 returns a resolver that also presigns s3:// URLs.
func NewS3(ctx context.Context, cfg S3Config) (*Resolver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.AccessSecret, "")),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newWithPresigner(s3.NewPresignClient(client), cfg.PresignExpiry), nil
}

func newWithPresigner(p presigner, expiry time.Duration) *Resolver {
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	return &Resolver{presigner: p, expiry: expiry}
}

func (r *Resolver) Resolve(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return "", fmt.Errorf("%w: missing host", domain.ErrInvalidURL)
		}
		return u.String(), nil
	case "s3":
		return r.presign(ctx, u)
	case "":
		return "", fmt.Errorf("%w: missing scheme", domain.ErrInvalidURL)
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidURL, u.Scheme)
	}
}

func (r *Resolver) presign(ctx context.Context, u *url.URL) (string, error) {
	if r.presigner == nil {
		return "", fmt.Errorf("%w: s3 sources are not configured", domain.ErrUnsupported)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", fmt.Errorf("%w: s3 url needs bucket and key", domain.ErrInvalidURL)
	}

	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.expiry))
	if err != nil {
		return "", fmt.Errorf("presign s3 object: %w", err)
	}
	return req.URL, nil
}
