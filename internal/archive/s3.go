// Package archive stores verbatim raw provider payloads in object storage so
// fetched data can be audited or replayed after the database rows evolve.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 writes one JSON object per completed fetch under
// <domain>/<searchID>.json.
type S3 struct {
	client *s3.Client
	bucket string
}

// New builds an archiver against the default AWS credential chain. An empty
// bucket name disables archiving; callers get a nil archiver back.
func New(ctx context.Context, bucket, region string) (*S3, error) {
	if bucket == "" {
		return nil, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

type envelope struct {
	Domain     string    `json:"domain"`
	SearchID   string    `json:"search_id"`
	ArchivedAt time.Time `json:"archived_at"`
	Payload    any       `json:"payload"`
}

// Archive uploads the payload. Failures are for the caller to log; archiving
// never gates the search lifecycle.
func (a *S3) Archive(ctx context.Context, domain, searchID string, payload any) error {
	body, err := json.Marshal(envelope{
		Domain:     domain,
		SearchID:   searchID,
		ArchivedAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("marshal archive payload: %w", err)
	}

	key := fmt.Sprintf("%s/%s.json", domain, searchID)
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
