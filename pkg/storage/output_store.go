package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// OutputStore keeps the captured output of profiling runs.
type OutputStore interface {
	// Store saves output and returns a reference path/URL
	Store(ctx context.Context, profileID string, output []byte) (string, error)
	// Retrieve fetches output by reference
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3OutputStore stores output in S3-compatible storage
type S3OutputStore struct {
	client     s3API
	bucket     string
	prefix     string
	localCache string
	now        func() time.Time
}

// S3OutputStoreConfig holds S3 configuration
type S3OutputStoreConfig struct {
	Bucket          string
	Prefix          string // e.g., "profiles/"
	Region          string
	Endpoint        string // For MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string
}

// NewS3OutputStore creates a new S3-backed output store
func NewS3OutputStore(ctx context.Context, cfg S3OutputStoreConfig) (*S3OutputStore, error) {
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

	return newS3OutputStore(s3.NewFromConfig(awsCfg, clientOpts...), cfg)
}

func newS3OutputStore(client s3API, cfg S3OutputStoreConfig) (*S3OutputStore, error) {
	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "profiles/"
	}
	return &S3OutputStore{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     prefix,
		localCache: cfg.LocalCacheDir,
		now:        time.Now,
	}, nil
}

// Store uploads output to S3
func (s *S3OutputStore) Store(ctx context.Context, profileID string, output []byte) (string, error) {
	key := s.buildKey(profileID)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(output),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload output to S3: %w", err)
	}

	if s.localCache != "" {
		_ = os.WriteFile(filepath.Join(s.localCache, filepath.Base(key)), output, 0o644)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Retrieve fetches output from the local cache or S3
func (s *S3OutputStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	key := s.extractKey(reference)

	if s.localCache != "" {
		if data, err := os.ReadFile(filepath.Join(s.localCache, filepath.Base(key))); err == nil {
			return data, nil
		}
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get output from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}

	if s.localCache != "" {
		_ = os.WriteFile(filepath.Join(s.localCache, filepath.Base(key)), data, 0o644)
	}
	return data, nil
}

func (s *S3OutputStore) buildKey(profileID string) string {
	return fmt.Sprintf("%s%s/%s.out", s.prefix, s.now().UTC().Format("2006/01/02"), profileID)
}

func (s *S3OutputStore) extractKey(reference string) string {
	// s3://bucket/key
	if rest, ok := strings.CutPrefix(reference, "s3://"); ok {
		if _, key, found := strings.Cut(rest, "/"); found {
			return key
		}
	}
	return reference
}

// LocalOutputStore stores output on the local filesystem (for development/single-node)
type LocalOutputStore struct {
	basePath string
}

// NewLocalOutputStore creates a local filesystem output store
func NewLocalOutputStore(basePath string) (*LocalOutputStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}
	return &LocalOutputStore{basePath: abs}, nil
}

// Store saves output to the local filesystem
func (l *LocalOutputStore) Store(ctx context.Context, profileID string, output []byte) (string, error) {
	path := filepath.Join(l.basePath, filepath.Base(profileID)+".out")
	if err := os.WriteFile(path, output, 0o644); err != nil {
		return "", fmt.Errorf("failed to write output: %w", err)
	}
	return path, nil
}

// Retrieve reads output written by Store. References outside the base
// directory are refused.
func (l *LocalOutputStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	path := filepath.Clean(reference)
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.basePath, path)
	}
	if rel, err := filepath.Rel(l.basePath, path); err != nil || strings.HasPrefix(rel, "..") {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}
