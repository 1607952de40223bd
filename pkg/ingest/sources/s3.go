package sources

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/plateflow/plateflow/pkg/config"
)

// ObjectAPI is the subset of the S3 client used by S3 sources.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// NewS3Client builds an S3 client from the s3 config section. Without
// explicit keys the default AWS credential chain is used.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Source reads one object.
type S3Source struct {
	api     ObjectAPI
	bucket  string
	key     string
	size    int64
	timeout time.Duration
}

// NewS3Source creates a source for bucket/key. size may be -1.
func NewS3Source(api ObjectAPI, bucket, key string, size int64) *S3Source {
	return &S3Source{api: api, bucket: bucket, key: key, size: size, timeout: 5 * time.Minute}
}

func (s *S3Source) Name() string     { return path.Base(s.key) }
func (s *S3Source) Location() string { return "s3://" + s.bucket + "/" + s.key }
func (s *S3Source) Size() int64      { return s.size }

// Open downloads the object. Closing the reader ends the request.
func (s *S3Source) Open(ctx context.Context) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get object %s/%s: %w", s.bucket, s.key, err)
	}
	if out.ContentLength != nil {
		s.size = *out.ContentLength
	}
	return &cancelOnCloseReader{ReadCloser: out.Body, cancel: cancel}, nil
}

type cancelOnCloseReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnCloseReader) Close() error {
	r.cancel()
	return r.ReadCloser.Close()
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URL: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid S3 URL %q: want s3://bucket/key", raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// S3Sources resolves an s3:// URL. A key ending in "/" (or empty) is a
// prefix: every object below it with a supported extension becomes a
// source, sorted by key. Anything else names a single object.
func S3Sources(ctx context.Context, api ObjectAPI, raw string, known func(string) bool) ([]*S3Source, error) {
	bucket, key, err := ParseS3URL(raw)
	if err != nil {
		return nil, err
	}

	if key != "" && !strings.HasSuffix(key, "/") {
		head, err := api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to stat object %s/%s: %w", bucket, key, err)
		}
		return []*S3Source{NewS3Source(api, bucket, key, aws.ToInt64(head.ContentLength))}, nil
	}

	var out []*S3Source
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket), Prefix: aws.String(key)}
	for {
		page, err := api.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, key, err)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if strings.HasSuffix(k, "/") || (known != nil && !known(k)) {
				continue
			}
			out = append(out, NewS3Source(api, bucket, k, aws.ToInt64(obj.Size)))
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, nil
}
