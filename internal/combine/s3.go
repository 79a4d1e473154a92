package combine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"
)

// S3GetObjectAPI is the part of the S3 client the transport needs.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Transport fetches s3://bucket/key locations. Retries are left to the
// SDK's adaptive retryer.
type S3Transport struct {
	client  S3GetObjectAPI
	limiter *rate.Limiter
}

func NewS3Transport(ctx context.Context, profile string, bytesPerSecond int64) (*S3Transport, error) {
	opts := []func(*config.LoadOptions) error{config.WithRetryMode(aws.RetryModeAdaptive)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	return NewS3TransportFromClient(s3.NewFromConfig(cfg), bytesPerSecond), nil
}

func NewS3TransportFromClient(client S3GetObjectAPI, bytesPerSecond int64) *S3Transport {
	return &S3Transport{client: client, limiter: newLimiter(bytesPerSecond)}
}

func (t *S3Transport) Fetch(ctx context.Context, location string, onProgress ProgressFunc) ([]byte, error) {
	bucket, key, err := ParseS3URL(location)
	if err != nil {
		return nil, permanent(fmt.Errorf("%w: %v", ErrTransport, err))
	}
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get s3://%s/%s: %v", ErrTransport, bucket, key, err)
	}
	defer out.Body.Close()
	return readBody(ctx, out.Body, aws.ToInt64(out.ContentLength), t.limiter, onProgress)
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(location string) (string, string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 URL: %s", location)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 URL needs bucket and key: %s", location)
	}
	return u.Host, key, nil
}
