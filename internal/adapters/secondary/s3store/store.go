// Package s3store keeps content-addressed artifact copies in an S3-compatible
// bucket.
package s3store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

const checksumMeta = "Sha256"

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

type Store struct {
	client   *minio.Client
	bucket   string
	region   string
	prefix   string
	initOnce sync.Once
	initErr  error
}

func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &Store{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Put uploads localPath under its checksum. An object already stored with
// the same checksum is reused.
func (s *Store) Put(ctx context.Context, localPath, checksum string) (string, error) {
	checksum = strings.ToLower(checksum)
	if len(checksum) != sha256.Size*2 {
		return "", fmt.Errorf("%w: bad checksum %q", domain.ErrLocalStoreFailed, checksum)
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("%w: ensure bucket: %v", domain.ErrLocalStoreFailed, err)
	}

	key := objectKey(s.prefix, checksum, localPath)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil && info.UserMetadata[checksumMeta] == checksum {
		return s.url(key), nil
	}
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return "", fmt.Errorf("%w: stat object: %v", domain.ErrLocalStoreFailed, err)
	}

	if err := verifyChecksum(localPath, checksum); err != nil {
		return "", err
	}

	_, err = s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{checksumMeta: checksum},
	})
	if err != nil {
		return "", fmt.Errorf("%w: upload object: %v", domain.ErrLocalStoreFailed, err)
	}
	return s.url(key), nil
}

func (s *Store) url(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func objectKey(prefix, checksum, localPath string) string {
	name := checksum + strings.ToLower(filepath.Ext(localPath))
	return path.Join(prefix, checksum[:2], name)
}

func verifyChecksum(localPath, checksum string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != checksum {
		return fmt.Errorf("%w: expected %s, got %s", domain.ErrChecksumMismatch, checksum, got)
	}
	return nil
}

var _ ports.ArtifactStore = (*Store)(nil)
