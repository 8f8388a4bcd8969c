package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Client is the slice of the S3 API the sink needs.
type s3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives entries as individual JSON objects in an S3 bucket, keyed
// by sequence number so listings sort chronologically.
type S3Sink struct {
	client s3Client
	bucket string
	prefix string
}

// NewS3Sink builds a sink writing to bucket under the given key prefix.
func NewS3Sink(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

// newS3SinkWithClient is used by tests with a fake client.
func newS3SinkWithClient(client s3Client, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Write(ctx context.Context, e Entry) error {
	body, err := json.Marshal(toExport(e))
	if err != nil {
		return fmt.Errorf("audit: marshal for s3: %w", err)
	}
	key := path.Join(s.prefix, fmt.Sprintf("%012d-%s.json", e.Sequence, e.ID))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("audit: s3 put %s: %w", key, err)
	}
	return nil
}

func (s *S3Sink) Close() error { return nil }
