package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// checksumKey is the object metadata key holding the artifact checksum.
const checksumKey = "checksum"

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps artifacts as objects under an optional key prefix.
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Store creates an S3-backed artifact store.
func NewS3Store(ctx context.Context, cfg domain.RepositoryConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", domain.ErrInvalidInput)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	})

	return newS3Store(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3Store(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Get downloads an artifact.
func (s *S3Store) Get(ctx context.Context, name string) (*domain.Artifact, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + name),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, name)
		}
		return nil, fmt.Errorf("s3 get failed for %s: %w", name, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read failed for %s: %w", name, err)
	}

	// Objects uploaded by other tools carry no checksum metadata.
	checksum := Checksum(data)
	if stored := out.Metadata[checksumKey]; stored != "" && stored != checksum {
		return nil, fmt.Errorf("artifact %s checksum mismatch: stored %s, computed %s", name, stored, checksum)
	}

	return &domain.Artifact{
		Name:      name,
		Checksum:  checksum,
		Size:      int64(len(data)),
		Data:      data,
		UpdatedAt: aws.ToTime(out.LastModified).UTC(),
	}, nil
}

// Put uploads an artifact with its checksum in the object metadata.
func (s *S3Store) Put(ctx context.Context, name string, data []byte) (*domain.Artifact, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	checksum := Checksum(data)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{checksumKey: checksum},
	})
	if err != nil {
		return nil, fmt.Errorf("s3 put failed for %s: %w", name, err)
	}

	return &domain.Artifact{
		Name:      name,
		Checksum:  checksum,
		Size:      int64(len(data)),
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// List returns object metadata under the prefix. Checksums are not
// available from a listing and are left empty.
func (s *S3Store) List(ctx context.Context) ([]*domain.Artifact, error) {
	var artifacts []*domain.Artifact

	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			artifacts = append(artifacts, &domain.Artifact{
				Name:      name,
				Size:      aws.ToInt64(obj.Size),
				UpdatedAt: aws.ToTime(obj.LastModified).UTC(),
			})
		}
	}

	return artifacts, nil
}

// Ping checks that the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// Close is a no-op.
func (s *S3Store) Close() error {
	return nil
}
