package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store stores blobs as objects under prefix in bucket. Metadata travels as
// S3 user metadata so no second store is needed.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(id string) string {
	return s.prefix + id
}

func (s *S3Store) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(meta.ID)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(meta.ContentType),
		ContentLength: aws.Int64(meta.Size),
		Metadata:      toObjectMetadata(meta),
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", meta.ID, err)
	}
	return &meta, nil
}

func (s *S3Store) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return nil, nil, s.mapErr(id, err)
	}
	meta := fromObjectMetadata(id, aws.ToString(out.ContentType), aws.ToInt64(out.ContentLength), out.Metadata)
	return out.Body, meta, nil
}

func (s *S3Store) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", id, err)
	}
	return nil
}

func (s *S3Store) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return nil, s.mapErr(id, err)
	}
	return fromObjectMetadata(id, aws.ToString(out.ContentType), aws.ToInt64(out.ContentLength), out.Metadata), nil
}

func (s *S3Store) mapErr(id string, err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return ErrBlobNotFound
	}
	return fmt.Errorf("object %s: %w", id, err)
}

func toObjectMetadata(m BlobMetadata) map[string]string {
	return map[string]string{
		"file-name":  m.FileName,
		"sha256":     m.Hash,
		"request-id": m.RequestID,
		"created-by": m.CreatedBy,
		"created-at": m.CreatedAt.Format(time.RFC3339Nano),
		"size":       strconv.FormatInt(m.Size, 10),
	}
}

func fromObjectMetadata(id, contentType string, size int64, md map[string]string) *BlobMetadata {
	meta := &BlobMetadata{
		ID:          id,
		FileName:    md["file-name"],
		ContentType: contentType,
		Size:        size,
		Hash:        md["sha256"],
		RequestID:   md["request-id"],
		CreatedBy:   md["created-by"],
	}
	if meta.Size == 0 {
		meta.Size, _ = strconv.ParseInt(md["size"], 10, 64)
	}
	meta.CreatedAt, _ = time.Parse(time.RFC3339Nano, md["created-at"])
	return meta
}
