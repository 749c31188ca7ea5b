package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/timeline"
)

// ObjectPutter is the slice of the S3 client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes sweep reports as JSON objects keyed by start time,
// e.g. sweeps/2025/06/02/090000.json.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
}

func NewS3Archiver(client ObjectPutter, cfg config.ReportsConfig) *S3Archiver {
	return &S3Archiver{client: client, bucket: cfg.S3Bucket, prefix: cfg.Prefix}
}

// NewS3Client builds an S3 client for the reports bucket's region.
func NewS3Client(ctx context.Context, cfg config.ReportsConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// Key returns the object key for a report.
func (a *S3Archiver) Key(r *timeline.SweepReport) string {
	return path.Join(a.prefix, r.StartedAt.UTC().Format("2006/01/02/150405")+".json")
}

func (a *S3Archiver) Archive(ctx context.Context, r *timeline.SweepReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode sweep report: %w", err)
	}
	key := a.Key(r)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}
