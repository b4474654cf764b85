package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/config"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct {
	input   *s3.PutObjectInput
	options s3.PresignOptions
	err     error
}

func (f *fakePresigner) PresignPutObject(_ context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.input = params
	for _, fn := range optFns {
		fn(&f.options)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + *params.Key, Method: "PUT"}, nil
}

func TestPresignProfileImage(t *testing.T) {
	e := newEnv(t)
	e.createUsers(t, "u1")
	fake := &fakePresigner{}
	photos := &PhotoService{users: e.users, presigner: fake, bucket: "glaid-media", publicURL: "https://cdn.example/glaid-media"}

	res, err := photos.PresignProfileImage(context.Background(), sessionFor("u1"), "image/png")
	require.NoError(t, err)

	key := *fake.input.Key
	assert.True(t, strings.HasPrefix(key, "profileImages/u1/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.Equal(t, "glaid-media", *fake.input.Bucket)
	assert.Equal(t, "image/png", *fake.input.ContentType)
	assert.Equal(t, uploadExpiry, fake.options.Expires)

	assert.Equal(t, "https://signed.example/"+key, res.UploadURL)
	assert.Equal(t, "https://cdn.example/glaid-media/"+key, res.ImageURL)
	assert.Equal(t, 300, res.ExpiresIn)
	assert.Equal(t, []string{res.ImageURL}, e.user(t, "u1").Data.ProfileImages)
}

func TestPresignProfileImageFailures(t *testing.T) {
	e := newEnv(t)
	e.createUsers(t, "u1")
	fake := &fakePresigner{err: errors.New("signing unavailable")}
	photos := &PhotoService{users: e.users, presigner: fake, bucket: "glaid-media"}

	_, err := photos.PresignProfileImage(context.Background(), sessionFor("u1"), "image/gif")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
	assert.Nil(t, fake.input)

	_, err = photos.PresignProfileImage(context.Background(), sessionFor("u1"), "image/jpeg")
	assert.Error(t, err)
	assert.Nil(t, e.user(t, "u1").Data.ProfileImages)
}

func TestPublicBaseURL(t *testing.T) {
	assert.Equal(t, "https://glaid-media.s3.eu-west-2.amazonaws.com",
		publicBaseURL(config.AWSConfig{S3Bucket: "glaid-media", Region: "eu-west-2"}))
	assert.Equal(t, "http://localhost:9000/glaid-media",
		publicBaseURL(config.AWSConfig{S3Bucket: "glaid-media", Endpoint: "http://localhost:9000/"}))
}
