// Package storage keeps attachment content in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// BasePath prefixes every attachment object.
const BasePath = "attachments"

type Client struct {
	mc     *minio.Client
	bucket string
	now    func() time.Time
}

func NewMinIO(endpoint, access, secret string, useTLS bool, bucket string) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: useTLS,
	})
	if err != nil {
		return nil, err
	}
	return &Client{mc: mc, bucket: bucket, now: time.Now}, nil
}

func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// PutAttachment uploads the file content under a date-partitioned key.
func (c *Client) PutAttachment(ctx context.Context, id string, file models.Attachment) error {
	key := BuildObjectPath(BasePath, c.now(), id)
	_, err := c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(file.Data), int64(len(file.Data)), minio.PutObjectOptions{
		ContentType: file.Type,
		UserMetadata: map[string]string{
			"filename": file.Name,
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func BuildObjectPath(basePath string, t time.Time, file string) string {
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/%s",
		basePath, t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), file)
}
