package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config はS3接続設定。
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // MinIO等の互換エンドポイント。空の場合はAWSの既定
}

// s3API はS3Storeが使用するS3クライアントのメソッド。
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3Presigner は署名付きURLの生成に使用するメソッド。
type s3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store はAmazon S3（または互換ストレージ）を使用したObjectStoreの実装。
type S3Store struct {
	client    s3API
	presigner s3Presigner
	bucket    string
	now       func() time.Time
	newID     func() string
}

// NewS3Store は既定の認証情報チェーンでS3クライアントを構成し、S3Storeを生成する。
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, s3.NewPresignClient(client), cfg.Bucket, time.Now), nil
}

func newS3Store(client s3API, presigner s3Presigner, bucket string, now func() time.Time) *S3Store {
	return &S3Store{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
		now:       now,
		newID:     uuid.NewString,
	}
}

// Upload は画像を検証したうえでアップロードし、生成したキーを返す。
func (s *S3Store) Upload(ctx context.Context, obj Object, kind Kind, ownerID string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown object kind: %q", kind)
	}
	if ownerID == "" {
		return "", fmt.Errorf("owner ID is required")
	}

	contentType, err := ValidateImage(obj)
	if err != nil {
		return "", err
	}

	key := ObjectKey(ownerID, kind, obj.Filename, s.now(), s.newID())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(obj.Data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(obj.Data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}

	slog.Info("object uploaded",
		slog.String("key", key),
		slog.Int("size", len(obj.Data)),
	)
	return key, nil
}

// Delete は指定キーのオブジェクトを削除する。
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// PresignReadURL は指定キーのGetObject署名付きURLを生成する。
func (s *S3Store) PresignReadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}
	return req.URL, nil
}

// List はバケット内の全オブジェクトをページングしながら取得する。
func (s *S3Store) List(ctx context.Context) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, o := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(o.Key),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}
	return objects, nil
}

// compile-time interface check
var _ ObjectStore = (*S3Store)(nil)
