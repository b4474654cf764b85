package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/config"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const uploadExpiry = 5 * time.Minute

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/heic": "heic",
	"image/webp": "webp",
}

type presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// PhotoService hands out presigned uploads for profile images
type PhotoService struct {
	users     *repository.UserRepository
	presigner presigner
	bucket    string
	publicURL string
}

// NewPhotoService creates a new photo service
func NewPhotoService(ctx context.Context, users *repository.UserRepository, cfg config.AWSConfig) (*PhotoService, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &PhotoService{
		users:     users,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.S3Bucket,
		publicURL: publicBaseURL(cfg),
	}, nil
}

func publicBaseURL(cfg config.AWSConfig) string {
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.S3Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.Region)
}

// UploadRequest represents a request to get a pre-signed URL
type UploadRequest struct {
	ContentType string `json:"content_type"`
}

// UploadResponse represents the response with pre-signed URL
type UploadResponse struct {
	UploadURL string `json:"upload_url"`
	ImageURL  string `json:"image_url"`
	ExpiresIn int    `json:"expires_in"`
}

// PresignProfileImage returns a presigned PUT for a new profile image and
// appends its eventual URL to the session user's profile images.
func (s *PhotoService) PresignProfileImage(ctx context.Context, session *models.Session, contentType string) (*UploadResponse, error) {
	ext, ok := imageExtensions[contentType]
	if !ok {
		return nil, ErrUnsupportedContentType
	}

	key := fmt.Sprintf("profileImages/%s/%s.%s", session.AccountID, uuid.NewString(), ext)
	request, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = uploadExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate pre-signed URL: %w", err)
	}

	imageURL := s.publicURL + "/" + key
	if err := s.users.AddProfileImage(ctx, session.AccountID, imageURL); err != nil {
		return nil, fmt.Errorf("failed to add profile image: %w", err)
	}

	log.Info().
		Str("user_id", session.AccountID).
		Str("key", key).
		Msg("Profile image upload presigned")

	return &UploadResponse{
		UploadURL: request.URL,
		ImageURL:  imageURL,
		ExpiresIn: int(uploadExpiry.Seconds()),
	}, nil
}
