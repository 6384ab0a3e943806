package services

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/leadcrm/internal/common"
	"github.com/dmitrijs2005/leadcrm/internal/server/config"
	"github.com/google/uuid"
)

// PresignExpiry is how long presigned document URLs stay valid.
const PresignExpiry = 15 * time.Minute

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

var extPattern = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,10}$`)

// DocumentService hands out presigned URLs for user documents in object
// storage. Every user owns the key prefix users/{userID}/.
type DocumentService struct {
	config *config.Config
	now    func() time.Time
}

func NewDocumentService(cfg *config.Config) *DocumentService {
	return &DocumentService{config: cfg, now: time.Now}
}

func userPrefix(userID string) string {
	return "users/" + userID + "/"
}

// StorageKey builds a fresh object key for userID, keeping a sane extension
// from fileName.
func (s *DocumentService) StorageKey(userID, fileName string) string {
	d := s.now().UTC()
	ext := strings.ToLower(path.Ext(fileName))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	return fmt.Sprintf("%s%d/%02d/%02d/%s%s", userPrefix(userID), d.Year(), d.Month(), d.Day(), uuid.New(), ext)
}

func (s *DocumentService) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return newS3PresignClient(client), nil
}

// UploadURL returns a new object key and a presigned PUT URL for it.
func (s *DocumentService) UploadURL(ctx context.Context, userID, fileName string) (key string, url string, err error) {
	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return "", "", fmt.Errorf("error creating presign client: %w", err)
	}

	bucket := s.config.S3Bucket
	key = s.StorageKey(userID, fileName)

	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", "", fmt.Errorf("error presigning upload: %w", err)
	}

	return key, req.URL, nil
}

// DownloadURL returns a presigned GET URL for key. Keys outside the caller's
// prefix are refused.
func (s *DocumentService) DownloadURL(ctx context.Context, userID, key string) (string, error) {
	if key == "" {
		return "", common.ValidationError("key is required")
	}
	if strings.Contains(key, "..") || !strings.HasPrefix(key, userPrefix(userID)) {
		return "", common.AuthorizationError("access to this document is not allowed")
	}

	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return "", fmt.Errorf("error creating presign client: %w", err)
	}

	bucket := s.config.S3Bucket

	req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", fmt.Errorf("error presigning download: %w", err)
	}

	return req.URL, nil
}
