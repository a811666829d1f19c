package assets

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/runstream/runstream/internal/model"
)

// S3Config holds S3 locator configuration.
type S3Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Bucket holds the assets
	Bucket string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// KeyPrefix is prepended to every resolved object key
	KeyPrefix string

	OperationTimeout time.Duration
}

// DefaultS3Config returns sensible defaults for the S3 locator.
func DefaultS3Config(bucket, region string) S3Config {
	return S3Config{
		Bucket:           bucket,
		Region:           region,
		OperationTimeout: 30 * time.Second,
	}
}

// S3Locator resolves references to objects in one S3 bucket. The
// resource root maps to a key prefix; rootMap remaps acquisition-time
// roots the same way LocalLocator does.
type S3Locator struct {
	cfg     S3Config
	rootMap map[string]string
	client  *s3.Client
}

// NewS3Locator creates an S3-backed locator.
func NewS3Locator(ctx context.Context, cfg S3Config, rootMap map[string]string) (*S3Locator, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Locator{
		cfg:     cfg,
		rootMap: rootMap,
		client:  s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

// Path returns the object key for the reference.
func (l *S3Locator) Path(ref model.DatumRef) (string, error) {
	if ref.Resource.ResourcePath == "" {
		return "", fmt.Errorf("resource %s has no path", ref.Resource.UID)
	}
	root := ref.Resource.Root
	if mapped, ok := l.rootMap[root]; ok {
		root = mapped
	}
	key := path.Join(l.cfg.KeyPrefix, root, ref.Resource.ResourcePath)
	return strings.TrimPrefix(key, "/"), nil
}

// Open fetches the object and returns its body.
func (l *S3Locator) Open(ctx context.Context, ref model.DatumRef) (io.ReadCloser, error) {
	key, err := l.Path(ref)
	if err != nil {
		return nil, err
	}

	// No timeout wrapper here: the returned body streams on ctx, and
	// canceling a deadline context would sever it mid-read.
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", l.cfg.Bucket, key, err)
	}
	return out.Body, nil
}

// Exists issues a HEAD request for the object.
func (l *S3Locator) Exists(ctx context.Context, ref model.DatumRef) (bool, error) {
	key, err := l.Path(ref)
	if err != nil {
		return false, err
	}
	if l.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.OperationTimeout)
		defer cancel()
	}
	_, err = l.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(l.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}
