package storage

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"sslv-scraper/utils"
)

// putObjectAPI is the part of the S3 client S3Writer uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer uploads artifacts to an S3 bucket, key = artifact name.
type S3Writer struct {
	client putObjectAPI
	bucket string
	retry  *utils.RetryConfig
	logger *utils.Logger
}

// NewS3Writer loads AWS credentials from the default chain (env, shared
// config, instance role) and returns a writer for bucket.
func NewS3Writer(ctx context.Context, bucket, region string, retry *utils.RetryConfig, logger *utils.Logger) (*S3Writer, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	return newS3Writer(s3.NewFromConfig(cfg), bucket, retry, logger), nil
}

func newS3Writer(client putObjectAPI, bucket string, retry *utils.RetryConfig, logger *utils.Logger) *S3Writer {
	if retry == nil {
		retry = &utils.RetryConfig{MaxAttempts: 1, Logger: logger}
	}
	return &S3Writer{client: client, bucket: bucket, retry: retry, logger: logger}
}

// Upload puts the artifact body with run metadata attached to the object.
func (w *S3Writer) Upload(ctx context.Context, a Artifact) error {
	err := w.retry.Do(ctx, "s3 put "+a.Name, func(ctx context.Context) error {
		_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(w.bucket),
			Key:         aws.String(a.Name),
			Body:        bytes.NewReader(a.Body),
			ContentType: aws.String("application/json; charset=utf-8"),
			Metadata:    objectMetadata(a),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("s3: put s3://%s/%s: %w", w.bucket, a.Name, err)
	}
	w.logger.Info("[sink] Uploaded s3://%s/%s", w.bucket, a.Name)
	return nil
}

func (w *S3Writer) Close() error { return nil }

func objectMetadata(a Artifact) map[string]string {
	md := map[string]string{
		"record-count": strconv.Itoa(a.RecordCount),
		"run-id":       a.RunID,
		"city-id":      a.CityID,
		"data-type":    a.DataType,
		"source":       a.Source,
	}
	if !a.CreatedAt.IsZero() {
		md["created-date-time"] = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	for k, v := range md {
		if v == "" {
			delete(md, k)
		}
	}
	return md
}
