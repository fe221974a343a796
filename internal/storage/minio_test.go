package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hacknation/campus-lost-found/internal/models"
)

func TestCleanEndpoint(t *testing.T) {
	cases := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"minio.campus.edu", true, "https://minio.campus.edu"},
		{"localhost:9000", false, "http://localhost:9000"},
		{`"https://cdn.campus.edu/"`, false, "https://cdn.campus.edu"},
		{" =http://minio:9000/ ", true, "http://minio:9000"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cleanEndpoint(tc.in, tc.useSSL), tc.in)
	}
}

func TestMinIOStorage_PublicImageURL(t *testing.T) {
	s := &MinIOStorage{
		bucketName:     "item-images",
		publicEndpoint: "https://minio.campus.edu",
		urlMode:        URLModePublic,
	}
	ctx := context.Background()

	t.Run("ReferenceBucket", func(t *testing.T) {
		u, err := s.ImageURL(ctx, models.ImageReference{Path: "found/f1.jpg", BucketID: "found-images"})
		require.NoError(t, err)
		assert.Equal(t, "https://minio.campus.edu/found-images/found/f1.jpg", u)
	})

	t.Run("DefaultBucket", func(t *testing.T) {
		u, err := s.ImageURL(ctx, models.ImageReference{Path: "/lost/l1.jpg"})
		require.NoError(t, err)
		assert.Equal(t, "https://minio.campus.edu/item-images/lost/l1.jpg", u)
	})

	t.Run("EscapesPath", func(t *testing.T) {
		u, err := s.ImageURL(ctx, models.ImageReference{Path: "lost/my photo.jpg"})
		require.NoError(t, err)
		assert.Equal(t, "https://minio.campus.edu/item-images/lost/my%20photo.jpg", u)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := s.ImageURL(ctx, models.ImageReference{})
		assert.Error(t, err)
	})
}

func TestMinIOStorage_PresignedImageURL(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("access", "secret", ""),
		Region: "us-east-1",
	})
	require.NoError(t, err)

	s := &MinIOStorage{
		client:     client,
		bucketName: "item-images",
		urlMode:    URLModePresigned,
		urlTTL:     5 * time.Minute,
	}

	raw, err := s.ImageURL(context.Background(), models.ImageReference{Path: "lost/l1.jpg"})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/item-images/lost/l1.jpg", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}
