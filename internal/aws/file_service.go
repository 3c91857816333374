package aws

import (
	"context"
	"deliverly/internal/config"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// ErrFileNotFound is returned when no object exists for a key
var ErrFileNotFound = errors.New("file not found")

// FileService stores uploaded CSV files until a runner picks them up
type FileService interface {
	// UploadFile stores the content under key and returns its location
	UploadFile(ctx context.Context, key string, file io.Reader) (string, error)

	// OpenFile streams the content stored under key
	OpenFile(ctx context.Context, key string) (io.ReadCloser, error)

	// TestConnection checks the backing store is reachable
	TestConnection(ctx context.Context) error
}

type fileService struct {
	s3     *s3.Client
	bucket string
	region string
	prefix string
}

func NewFileService(cfg config.S3Config) (FileService, error) {
	// Create custom credentials
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		}, nil
	})

	// Create custom config with credentials and region
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	return &fileService{
		s3:     s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: cfg.Prefix,
	}, nil
}

func (s *fileService) objectKey(key string) string {
	return path.Join(s.prefix, key)
}

func (s *fileService) UploadFile(ctx context.Context, key string, file io.Reader) (string, error) {
	objectKey := s.objectKey(key)

	uploader := manager.NewUploader(s.s3)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        file,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		log.Error().Err(err).Str("key", objectKey).Msg("Failed to upload file")
		return "", err
	}

	log.Debug().Str("key", objectKey).Msg("Uploaded file")

	// Construct the URL manually
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, objectKey), nil
}

func (s *fileService) OpenFile(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey := s.objectKey(key)

	output, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, objectKey)
		}
		log.Error().Err(err).Str("key", objectKey).Msg("Failed to open file")
		return nil, err
	}

	return output.Body, nil
}

func (s *fileService) TestConnection(ctx context.Context) error {
	// Try to list objects with max 1 result to test the connection
	_, err := s.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1), // Only fetch 1 key to minimize data transfer
	})
	if err != nil {
		log.Err(err).Msg("AWS S3 Test Connection")
	}

	return err
}
