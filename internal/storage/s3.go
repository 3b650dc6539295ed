package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/config"
)

// S3Store stores audio files in an S3-compatible object store. Fetch copies
// the object to a temporary file since ffmpeg needs a seekable input.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	tmpDir string
	log    zerolog.Logger
}

// NewS3Store creates an S3 audio store from config. tmpDir "" uses the OS
// default for fetched copies.
func NewS3Store(cfg config.S3Config, tmpDir string, log zerolog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		tmpDir: tmpDir,
		log:    log.With().Str("component", "s3-store").Logger(),
	}, nil
}

// HeadBucket checks that the bucket exists and credentials are valid.
func (s *S3Store) HeadBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &s.bucket,
	})
	return err
}

func (s *S3Store) Save(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ValidateID(key); err != nil {
		return err
	}
	objKey := s.objectKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &objKey,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	return err
}

// resolve returns the object key for fileID: the exact key if it exists,
// otherwise the first key under "<id>.".
func (s *S3Store) resolve(ctx context.Context, fileID string) (string, error) {
	if err := ValidateID(fileID); err != nil {
		return "", err
	}
	objKey := s.objectKey(fileID)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &objKey,
	})
	if err == nil {
		return objKey, nil
	}
	var nf *types.NotFound
	if !errors.As(err, &nf) {
		return "", fmt.Errorf("head %s: %w", objKey, err)
	}

	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &s.bucket,
		Prefix:  aws.String(objKey + "."),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", fmt.Errorf("list %s: %w", objKey, err)
	}
	if len(out.Contents) == 0 || out.Contents[0].Key == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	return *out.Contents[0].Key, nil
}

func (s *S3Store) Fetch(ctx context.Context, fileID string) (string, func(), error) {
	objKey, err := s.resolve(ctx, fileID)
	if err != nil {
		return "", nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &objKey,
	})
	if err != nil {
		return "", nil, fmt.Errorf("get %s: %w", objKey, err)
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(s.tmpDir, "scribe-s3-*"+path.Ext(objKey))
	if err != nil {
		return "", nil, fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	n, err := io.Copy(tmp, out.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("download %s: %w", objKey, err)
	}
	s.log.Debug().Str("key", objKey).Int64("bytes", n).Msg("audio fetched")
	return tmpPath, cleanup, nil
}

func (s *S3Store) Delete(ctx context.Context, fileID string) error {
	objKey, err := s.resolve(ctx, fileID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &objKey,
	})
	return err
}

func (s *S3Store) Exists(ctx context.Context, fileID string) bool {
	_, err := s.resolve(ctx, fileID)
	return err == nil
}

func (s *S3Store) Type() string { return "s3" }

func (s *S3Store) objectKey(key string) string {
	if s.prefix != "" {
		return s.prefix + "/uploads/" + key
	}
	return "uploads/" + key
}
