// Package filestore keeps artifacts and manifests on the local filesystem.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

type artifactStore struct {
	root string
}

// NewArtifactStore returns a content-addressed store rooted at root. Files
// are kept as root/<sha[:2]>/<sha><ext>.
func NewArtifactStore(root string) (ports.ArtifactStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &artifactStore{root: abs}, nil
}

func (s *artifactStore) Put(ctx context.Context, localPath, checksum string) (string, error) {
	checksum = strings.ToLower(checksum)
	if len(checksum) != sha256.Size*2 {
		return "", fmt.Errorf("%w: bad checksum %q", domain.ErrLocalStoreFailed, checksum)
	}

	dir := filepath.Join(s.root, checksum[:2])
	target := filepath.Join(dir, checksum+strings.ToLower(filepath.Ext(localPath)))
	if _, err := os.Stat(target); err == nil {
		return fileURL(target), nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrLocalStoreFailed, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrLocalStoreFailed, err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(tmp, h), src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("%w: copy artifact: %v", domain.ErrLocalStoreFailed, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != checksum {
		return "", fmt.Errorf("%w: expected %s, got %s", domain.ErrChecksumMismatch, checksum, got)
	}

	// Link fails if a concurrent Put published the same content first,
	// which is as good as success.
	if err := os.Link(tmp.Name(), target); err != nil && !errors.Is(err, os.ErrExist) {
		return "", fmt.Errorf("%w: publish artifact: %v", domain.ErrLocalStoreFailed, err)
	}
	return fileURL(target), nil
}

func fileURL(p string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}
