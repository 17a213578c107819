// Package proof stores filing proof documents in an S3-compatible bucket.
package proof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// ErrEmptyDocument is returned for zero-length uploads.
var ErrEmptyDocument = errors.New("proof: empty document")

// Options configures the MinIO client.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type objectAPI interface {
	PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, objectName string, opts minio.RemoveObjectOptions) error
}

// Store uploads proof documents and returns their object keys.
type Store struct {
	client objectAPI
	bucket string
	log    logrus.FieldLogger
	newID  func() string
}

// New connects to MinIO and creates the bucket if it is missing. The bucket stays private.
func New(ctx context.Context, opts Options, log logrus.FieldLogger) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("proof: new client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("proof: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("proof: make bucket: %w", err)
		}
		if log != nil {
			log.WithField("bucket", opts.Bucket).Info("created proof bucket")
		}
	}
	return newStore(client, opts.Bucket, log), nil
}

func newStore(client objectAPI, bucket string, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{client: client, bucket: bucket, log: log, newID: uuid.NewString}
}

// Put uploads one document for a deadline and returns the object key to record as proof_ref.
func (s *Store) Put(ctx context.Context, deadlineID, filename, contentType string, r io.Reader, size int64) (string, error) {
	if size == 0 {
		return "", ErrEmptyDocument
	}
	key := s.Key(deadlineID, filename)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("proof: upload: %w", err)
	}
	s.log.WithFields(logrus.Fields{"deadline_id": deadlineID, "object": key}).Info("proof uploaded")
	return key, nil
}

// Remove deletes an uploaded document. Used when the filing it belonged to did not commit.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("proof: remove: %w", err)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key builds deadlines/<deadline id>/<uuid>-<name>.
func (s *Store) Key(deadlineID, filename string) string {
	name := unsafeChars.ReplaceAllString(path.Base(strings.ReplaceAll(filename, `\`, "/")), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "proof"
	}
	return fmt.Sprintf("deadlines/%s/%s-%s", deadlineID, s.newID(), name)
}
