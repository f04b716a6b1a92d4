package artifact

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/teranos/compliq/errors"
)

// S3API is the part of *s3.Client the store uses
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps artifacts in a bucket under an optional prefix
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store wraps an existing client
func NewS3Store(client S3API, bucket, prefix string) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("s3 bucket cannot be empty")
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

// NewS3StoreFromEnvironment builds a client from the default AWS credential chain
func NewS3StoreFromEnvironment(ctx context.Context, bucket, prefix, region string) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS configuration")
	}
	return NewS3Store(s3.NewFromConfig(awsCfg), bucket, prefix)
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Put uploads data as a Markdown object
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(MarkdownContentType),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upload %s", s.Location(key))
	}
	return nil
}

// Get downloads the object at key
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.Wrapf(errors.ErrNotFound, "artifact %s", s.Location(key))
		}
		return nil, errors.Wrapf(err, "failed to download %s", s.Location(key))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", s.Location(key))
	}
	return data, nil
}

// Location is the s3:// URI of key
func (s *S3Store) Location(key string) string {
	return "s3://" + s.bucket + "/" + s.objectKey(key)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
