// Package objstore uploads export documents to MinIO or any S3-compatible
// service and hands out presigned download URLs.
//
//	store, err := objstore.New(objstore.Config{Endpoint: "localhost:9000", Bucket: "exports", ...})
//	obj, err := store.Put(ctx, key, "text/csv", data)
//	url, err := store.PresignGet(ctx, obj.Key)
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

const defaultPresignTTL = 15 * time.Minute

// Config describes the target bucket.
type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	Region     string
	Bucket     string
	Prefix     string
	PresignTTL time.Duration
}

// Object is an uploaded document.
type Object struct {
	Bucket string
	Key    string
	Size   int64
	ETag   string
}

// Store is safe for concurrent use.
type Store struct {
	client     *miniogo.Client
	bucket     string
	prefix     string
	presignTTL time.Duration
}

// New creates a client. No request is made; use Ping to verify the bucket.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errs.New(errs.KindInvalidInput, "object store endpoint must be non-empty")
	}
	if cfg.Bucket == "" {
		return nil, errs.New(errs.KindInvalidInput, "object store bucket must be non-empty")
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "failed to create object store client", err)
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &Store{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		presignTTL: ttl,
	}, nil
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// Ping verifies that the bucket exists and is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return mapError(err, "ping failed")
	}
	if !ok {
		return errs.Newf(errs.KindNotFound, "bucket %q does not exist", s.bucket)
	}
	return nil
}

// Key builds <prefix>/<yyyy>/<mm>/<dd>/<id>.<ext> for an upload made at now.
func (s *Store) Key(now time.Time, id, ext string) string {
	name := fmt.Sprintf("%s/%s.%s", now.UTC().Format("2006/01/02"), id, ext)
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Put uploads data under key.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) (*Object, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, mapError(err, "failed to upload export")
	}
	return &Object{Bucket: s.bucket, Key: key, Size: info.Size, ETag: info.ETag}, nil
}

// PresignGet returns a time-limited download URL for key.
func (s *Store) PresignGet(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignTTL, nil)
	if err != nil {
		return "", mapError(err, "failed to presign download URL")
	}
	return u.String(), nil
}

// mapError translates a MinIO SDK error into a *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.KindTimeout, msg, err)
	}

	var resp miniogo.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchBucket", "NoSuchKey":
			return errs.Wrap(errs.KindNotFound, msg, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			e := errs.Wrap(errs.KindExecutionError, msg, err)
			e.Hint = "check the object store credentials and bucket policy"
			return e
		case "InvalidBucketName", "InvalidObjectName", "KeyTooLongError":
			return errs.Wrap(errs.KindInvalidInput, msg, err)
		case "RequestTimeout", "SlowDown":
			return errs.Wrap(errs.KindTimeout, msg, err)
		}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return errs.Wrap(errs.KindNotFound, msg, err)
		case http.StatusForbidden, http.StatusUnauthorized:
			e := errs.Wrap(errs.KindExecutionError, msg, err)
			e.Hint = "check the object store credentials and bucket policy"
			return e
		case http.StatusBadRequest:
			return errs.Wrap(errs.KindInvalidInput, msg, err)
		}
	}

	e := errs.Wrap(errs.KindExecutionError, msg, err)
	e.Retryable = true
	return e
}
