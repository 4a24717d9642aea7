// Package cloudflare provides a client for interacting with the Cloudflare API.
package cloudflare

import (
	a "bitwise74/clip-ingest/aws"
	"bitwise74/clip-ingest/config"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewR2 returns an S3 client pointed at the account's R2 endpoint. R2 speaks
// the S3 API so the same storage code works against both
func NewR2(ctx context.Context, c config.Cloudflare) (*a.S3Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKeyID,
			c.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, err
	}

	bucket := aws.String(c.Bucket)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID))
		o.Region = "auto"
	})

	if err := a.CheckBucket(ctx, client, bucket); err != nil {
		return nil, err
	}

	return &a.S3Client{
		C:      client,
		Bucket: bucket,
	}, nil
}
