package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/multierr"
)

// LogStore persists phase log artifacts.
type LogStore interface {
	// Store saves data under name and returns a reference path/URL.
	Store(ctx context.Context, name string, data []byte) (string, error)
}

// S3API is the subset of the S3 client used for uploads.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3LogStore uploads artifacts to S3-compatible storage
type S3LogStore struct {
	client S3API
	bucket string
	prefix string
}

// S3LogStoreConfig holds S3 configuration
type S3LogStoreConfig struct {
	Bucket          string
	Prefix          string // e.g., "testbot/logs/"
	Region          string
	Endpoint        string // For MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3LogStore creates a new S3-backed log store
func NewS3LogStore(ctx context.Context, cfg S3LogStoreConfig) (*S3LogStore, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	return NewS3LogStoreWithClient(s3.NewFromConfig(awsCfg, clientOpts...), cfg.Bucket, cfg.Prefix), nil
}

// NewS3LogStoreWithClient wraps an existing client.
func NewS3LogStoreWithClient(client S3API, bucket, prefix string) *S3LogStore {
	return &S3LogStore{client: client, bucket: bucket, prefix: prefix}
}

// Scoped returns a store writing below an additional key prefix.
func (s *S3LogStore) Scoped(elem ...string) *S3LogStore {
	return &S3LogStore{
		client: s.client,
		bucket: s.bucket,
		prefix: path.Join(append([]string{s.prefix}, elem...)...) + "/",
	}
}

// Store uploads an artifact to S3
func (s *S3LogStore) Store(ctx context.Context, name string, data []byte) (string, error) {
	key := s.prefix + name

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload log to S3: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// LocalLogStore writes artifacts into a directory, typically the working copy.
type LocalLogStore struct {
	basePath string
}

// NewLocalLogStore creates a local filesystem log store. The directory is
// created on first write.
func NewLocalLogStore(basePath string) *LocalLogStore {
	return &LocalLogStore{basePath: basePath}
}

// Store saves an artifact to the local filesystem
func (l *LocalLogStore) Store(ctx context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(l.basePath, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	p := filepath.Join(l.basePath, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write log: %w", err)
	}
	return p, nil
}

// MultiLogStore writes to every store in order. The first store's reference
// is returned; failures of all stores are combined.
type MultiLogStore []LogStore

func (m MultiLogStore) Store(ctx context.Context, name string, data []byte) (string, error) {
	var (
		first string
		errs  error
	)
	for i, s := range m {
		ref, err := s.Store(ctx, name, data)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if i == 0 {
			first = ref
		}
	}
	return first, errs
}
