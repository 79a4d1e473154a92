package staging

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Uploader is the part of manager.Uploader the stager uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Stager uploads each target under bucket/prefix as soon as it is staged.
type S3Stager struct {
	uploader Uploader
	bucket   string
	prefix   string

	mu       sync.Mutex
	uploaded []string
}

func NewS3Stager(ctx context.Context, dest, profile string) (*S3Stager, error) {
	bucket, prefix, err := parseDest(dest)
	if err != nil {
		return nil, err
	}
	opts := []func(*config.LoadOptions) error{config.WithRetryMode(aws.RetryModeAdaptive)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	uploader := manager.NewUploader(s3.NewFromConfig(cfg), func(u *manager.Uploader) {
		u.PartSize = 16 * 1024 * 1024
		u.Concurrency = 4
	})
	return NewS3StagerFromUploader(uploader, bucket, prefix), nil
}

func NewS3StagerFromUploader(uploader Uploader, bucket, prefix string) *S3Stager {
	return &S3Stager{uploader: uploader, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Stager) Stage(ctx context.Context, name string, data []byte) error {
	rel, err := cleanName(name)
	if err != nil {
		return err
	}
	key := rel
	if s.prefix != "" {
		key = path.Join(s.prefix, rel)
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("error uploading s3://%s/%s: %v", s.bucket, key, err)
	}
	log.Debug().Str("op", "staging/s3").Msgf("Uploaded s3://%s/%s", s.bucket, key)
	s.mu.Lock()
	s.uploaded = append(s.uploaded, fmt.Sprintf("s3://%s/%s", s.bucket, key))
	s.mu.Unlock()
	return nil
}

// Materialize reports the uploaded objects; uploads are already final.
func (s *S3Stager) Materialize(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploaded...), nil
}

func parseDest(dest string) (string, string, error) {
	rest, ok := strings.CutPrefix(dest, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 destination: %s", dest)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 destination needs a bucket: %s", dest)
	}
	return bucket, prefix, nil
}
