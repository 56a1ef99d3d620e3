package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectAPI 是 S3Operator 使用到的 S3 API 子集
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Operator struct {
	// Client 是 S3 客戶端。
	Client ObjectAPI
	// Bucket 是 S3 存儲桶的名稱。
	Bucket string
	// PublicEndpoint 是 S3 存儲桶的公開 Endpoint。
	PublicEndpoint *url.URL
}

func NewS3Operator(client ObjectAPI, bucket, publicBaseURL string) (*S3Operator, error) {
	const op = "NewS3Operator"
	if bucket == "" {
		return nil, fmt.Errorf("[%s] Bucket cannot be empty", op)
	}
	publicEndpoint, err := url.Parse(publicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public base URL, err=%w", op, err)
	}
	if publicEndpoint.Scheme == "" || publicEndpoint.Host == "" {
		return nil, fmt.Errorf("[%s] Public base URL must be absolute, url=%s", op, publicBaseURL)
	}
	return &S3Operator{Client: client, Bucket: bucket, PublicEndpoint: publicEndpoint}, nil
}

// Put 將檔案寫入 bucket 的 path 位置，已存在時不覆寫
func (s *S3Operator) Put(ctx context.Context, path string, content []byte, contentType string) error {
	const op = "Put"
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to upload file to S3, key=%s, err=%w", op, path, err)
	}
	return nil
}

// Delete 刪除 bucket 中 path 位置的檔案，檔案不存在時 S3 也會回傳成功
func (s *S3Operator) Delete(ctx context.Context, path string) error {
	const op = "Delete"
	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to delete file from S3, key=%s, err=%w", op, path, err)
	}
	return nil
}

// PublicURL 根據公開 Endpoint 推導檔案的網址
func (s *S3Operator) PublicURL(path string) string {
	uri := *s.PublicEndpoint
	uri.Path = strings.TrimSuffix(uri.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	uri.RawPath = ""
	return uri.String()
}
