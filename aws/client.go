// Package aws defines functions used to interact with the AWS API
package aws

import (
	"bitwise74/clip-ingest/config"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type S3Client struct {
	C      *s3.Client
	Bucket *string
}

// NewConfig loads an AWS config using the static credentials from the
// application config
func NewConfig(ctx context.Context, c config.AWS) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(c.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKey,
			c.SecretAccessKey,
			"",
		)),
	)
}

func NewS3(ctx context.Context, c config.AWS) (*S3Client, error) {
	cfg, err := NewConfig(ctx, c)
	if err != nil {
		return nil, err
	}

	bucket := aws.String(c.Bucket)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	if err := CheckBucket(ctx, client, bucket); err != nil {
		return nil, err
	}

	return &S3Client{
		C:      client,
		Bucket: bucket,
	}, nil
}

// CheckBucket fails if the bucket doesn't exist or can't be reached
func CheckBucket(ctx context.Context, client *s3.Client, bucket *string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: bucket,
	})
	if err != nil {
		var apiErr smithy.APIError

		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "NotFound" {
				return fmt.Errorf("bucket '%s' does not exist", *bucket)
			}
		}

		return fmt.Errorf("failed to check if bucket exists, %w", err)
	}

	return nil
}
