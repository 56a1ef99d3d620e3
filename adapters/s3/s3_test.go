package s3_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdant/adapters/s3"
)

type fakeObjectAPI struct {
	puts    []*awsS3.PutObjectInput
	bodies  [][]byte
	deletes []*awsS3.DeleteObjectInput
	err     error
}

func (f *fakeObjectAPI) PutObject(_ context.Context, params *awsS3.PutObjectInput, _ ...func(*awsS3.Options)) (*awsS3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(params.Body)
	f.puts = append(f.puts, params)
	f.bodies = append(f.bodies, body)
	return &awsS3.PutObjectOutput{}, nil
}

func (f *fakeObjectAPI) DeleteObject(_ context.Context, params *awsS3.DeleteObjectInput, _ ...func(*awsS3.Options)) (*awsS3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deletes = append(f.deletes, params)
	return &awsS3.DeleteObjectOutput{}, nil
}

func TestNewS3Operator(t *testing.T) {
	tests := []struct {
		name          string
		bucket        string
		publicBaseURL string
		wantErr       bool
	}{
		{name: "valid", bucket: "plants", publicBaseURL: "https://cdn.example.com/plants"},
		{name: "empty bucket", bucket: "", publicBaseURL: "https://cdn.example.com", wantErr: true},
		{name: "relative url", bucket: "plants", publicBaseURL: "cdn.example.com", wantErr: true},
		{name: "invalid url", bucket: "plants", publicBaseURL: "://bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			operator, err := s3.NewS3Operator(&fakeObjectAPI{}, tt.bucket, tt.publicBaseURL)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, operator)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, operator)
		})
	}
}

func TestS3Operator_PublicURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		path    string
		want    string
	}{
		{
			name:    "base url without path",
			baseURL: "https://cdn.example.com",
			path:    "owner/plant/1-a.jpg",
			want:    "https://cdn.example.com/owner/plant/1-a.jpg",
		},
		{
			name:    "base url with path and trailing slash",
			baseURL: "https://cdn.example.com/plant-images/",
			path:    "owner/plant/1-a.jpg",
			want:    "https://cdn.example.com/plant-images/owner/plant/1-a.jpg",
		},
		{
			name:    "path with leading slash",
			baseURL: "https://cdn.example.com/bucket",
			path:    "/owner/plant/1-a.png",
			want:    "https://cdn.example.com/bucket/owner/plant/1-a.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			operator, err := s3.NewS3Operator(&fakeObjectAPI{}, "plants", tt.baseURL)
			require.NoError(t, err)
			assert.Equal(t, tt.want, operator.PublicURL(tt.path))
		})
	}
}

func TestS3Operator_PutAndDelete(t *testing.T) {
	api := &fakeObjectAPI{}
	operator, err := s3.NewS3Operator(api, "plants", "https://cdn.example.com")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, operator.Put(ctx, "o/p/1.webp", []byte("webp"), "image/webp"))
	require.Len(t, api.puts, 1)
	assert.Equal(t, "plants", aws.ToString(api.puts[0].Bucket))
	assert.Equal(t, "o/p/1.webp", aws.ToString(api.puts[0].Key))
	assert.Equal(t, "image/webp", aws.ToString(api.puts[0].ContentType))
	assert.Equal(t, "*", aws.ToString(api.puts[0].IfNoneMatch))
	assert.Equal(t, []byte("webp"), api.bodies[0])

	require.NoError(t, operator.Delete(ctx, "o/p/1.webp"))
	require.Len(t, api.deletes, 1)
	assert.Equal(t, "o/p/1.webp", aws.ToString(api.deletes[0].Key))

	api.err = errors.New("throttled")
	assert.ErrorIs(t, operator.Put(ctx, "o/p/2.webp", []byte("x"), "image/webp"), api.err)
	assert.ErrorIs(t, operator.Delete(ctx, "o/p/2.webp"), api.err)
}
