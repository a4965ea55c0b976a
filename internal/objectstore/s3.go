package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds S3 connection configuration.
type S3Config struct {
	Provider       Provider
	Bucket         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	AccountID      string // R2 only
	UseSSL         bool   // MinIO and custom endpoints without a scheme
	ForcePathStyle bool
	// PublicBaseURL overrides the URL objects are served from, e.g. a CDN domain.
	PublicBaseURL string
}

// S3Store implements Store on aws-sdk-go-v2.
type S3Store struct {
	client    *s3.Client
	bucket    string
	endpoint  string
	pathStyle bool
	publicURL string
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates an S3Store. Static credentials are used when AccessKey is set,
// otherwise the default AWS credential chain applies.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	r, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(r.region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(r.endpoint)
		o.UsePathStyle = r.pathStyle
	})

	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		endpoint:  r.endpoint,
		pathStyle: r.pathStyle,
		publicURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
	}, nil
}

// Upload puts data at path in the bucket.
func (s *S3Store) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

// PublicURL returns the URL of path.
func (s *S3Store) PublicURL(path string) string {
	escaped := escapeKey(path)
	if s.publicURL != "" {
		return s.publicURL + "/" + escaped
	}
	if s.pathStyle {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, escaped)
	}
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, escaped)
	}
	return fmt.Sprintf("%s://%s.%s/%s", u.Scheme, s.bucket, u.Host, escaped)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
