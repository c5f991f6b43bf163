package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"AdRelister/internal/config"
	"AdRelister/internal/domain"
	"AdRelister/internal/ports"
)

// putObjectAPI is the narrow slice of the S3 client used here.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive stores each finished run as a JSON object under prefix/batchID/.
type S3Archive struct {
	client putObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

var _ ports.ReportArchive = (*S3Archive)(nil)

// NewS3Archive loads the default AWS credential chain with an optional region override.
func NewS3Archive(ctx context.Context, cfg config.ArchiveConfig) (*S3Archive, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newS3Archive(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix), nil
}

func newS3Archive(client putObjectAPI, bucket, prefix string) *S3Archive {
	return &S3Archive{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *S3Archive) StoreReport(ctx context.Context, detail domain.BatchDetail) error {
	body, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	key := a.key(detail.Batch)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"batch-status": string(detail.Batch.Status),
		},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}

func (a *S3Archive) key(batch domain.Batch) string {
	at := a.now()
	if batch.CompletedAt != nil {
		at = batch.CompletedAt.UTC()
	}
	name := fmt.Sprintf("%s-%s.json", at.Format("20060102T150405Z"), batch.Status)
	return path.Join(a.prefix, batch.ID, name)
}
