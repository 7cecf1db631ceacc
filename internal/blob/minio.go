package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
)

// Store wraps the MinIO client with the bucket conventions used across
// the service: source PDFs, extracted figures and tables, and parsed
// markdown all live under per-user prefixes in one bucket.
type Store struct {
	client *minio.Client
	bucket string
}

func NewStore(cfg *config.Config) (*Store, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	s := &Store{client: client, bucket: cfg.MinioBucket}
	if err := s.ensureBucket(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
		}
		logger.Info("Created blob bucket", "bucket", s.bucket)
	}
	return nil
}

// Put stores raw bytes at key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// PutStream stores from a reader of known size.
func (s *Store) PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// PutFile uploads a local file.
func (s *Store) PutFile(ctx context.Context, key, localPath, contentType string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}
	return nil
}

// Get reads the whole object into memory.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// GetStream returns a reader over the object. Caller must Close it.
func (s *Store) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return obj, nil
}

// Stat returns object info, or an error if the object does not exist.
func (s *Store) Stat(ctx context.Context, key string) (minio.ObjectInfo, error) {
	return s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
}

// Exists reports whether the key is present.
func (s *Store) Exists(ctx context.Context, key string) bool {
	_, err := s.Stat(ctx, key)
	return err == nil
}

// PresignedGet returns a time-limited download URL for direct client access.
func (s *Store) PresignedGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Remove deletes one object. Missing objects are not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// RemovePrefix deletes every object under prefix. Used when a document
// is deleted to clear its figures, tables and derived files.
func (s *Store) RemovePrefix(ctx context.Context, prefix string) error {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var firstErr error
	count := 0
	for obj := range objects {
		if obj.Err != nil {
			if firstErr == nil {
				firstErr = obj.Err
			}
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		count++
	}
	if count > 0 {
		logger.Debug("Removed blob prefix", "prefix", prefix, "objects", count)
	}
	return firstErr
}

// ListPrefix returns object keys under prefix.
func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var keys []string
	for obj := range objects {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Healthy pings the backend by checking the bucket.
func (s *Store) Healthy(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// ---- key layout helpers ----

// PDFKey builds the object key for an uploaded PDF:
// {user}/pdfs/{epoch}-{rand}-{safe_name}.pdf
func PDFKey(userID, randSuffix, safeName string) string {
	return fmt.Sprintf("%s/pdfs/%d-%s-%s", userID, time.Now().Unix(), randSuffix, safeName)
}

// FigureKey builds the object key for an extracted figure.
func FigureKey(userID, docID, filename string) string {
	return fmt.Sprintf("%s/document/%s/figures/%s", userID, docID, filename)
}

// TableKey builds the object key for an extracted table.
func TableKey(userID, docID, filename string) string {
	return fmt.Sprintf("%s/document/%s/tables/%s", userID, docID, filename)
}

// DocumentPrefix is everything derived from one document.
func DocumentPrefix(userID, docID string) string {
	return fmt.Sprintf("%s/document/%s/", userID, docID)
}
