package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// S3Options configures the S3-compatible payload store (AWS S3 or MinIO).
type S3Options struct {
	Region       string
	BaseEndpoint string
	Bucket       string
	AccessKey    string // MINIO_ROOT_USER
	SecretKey    string // MINIO_ROOT_PASSWORD
	URLExpiry    time.Duration
}

// S3PayloadStore keeps file payloads in an S3 bucket. Payload ids are object
// keys; retrieval URLs are presigned GETs.
type S3PayloadStore struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	urlExpiry time.Duration
}

func NewS3PayloadStore(ctx context.Context, opts S3Options) (*S3PayloadStore, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	expiry := opts.URLExpiry
	if expiry == 0 {
		expiry = 15 * time.Minute
	}

	return &S3PayloadStore{
		client:    client,
		presigner: newS3PresignClient(client),
		bucket:    opts.Bucket,
		urlExpiry: expiry,
	}, nil
}

func storageKey() string {
	d := time.Now()
	return fmt.Sprintf("payloads/%d/%d/%d/%v", d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *S3PayloadStore) Put(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening payload %s: %w", localPath, err)
	}
	defer f.Close()

	key := storageKey()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("uploading payload: %w", err)
	}
	return key, nil
}

func (s *S3PayloadStore) Get(ctx context.Context, payloadID string, localPath string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &payloadID,
	})
	if err != nil {
		return fmt.Errorf("downloading payload %s: %w", payloadID, err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("writing %s: %w", localPath, err)
	}
	return nil
}

func (s *S3PayloadStore) Delete(ctx context.Context, payloadID string) error {
	// DeleteObject succeeds for missing keys, which keeps Delete idempotent.
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &payloadID,
	})
	if err != nil {
		return fmt.Errorf("deleting payload %s: %w", payloadID, err)
	}
	return nil
}

func (s *S3PayloadStore) ResolveURL(ctx context.Context, payloadID string) (string, error) {
	req, err := presignGetObject(s.presigner, ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &payloadID,
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
