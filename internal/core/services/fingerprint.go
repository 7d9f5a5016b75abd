package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"model-uploader/internal/core/domain"
)

const fingerprintChunkSize = 1 << 20

// Fingerprinter computes content identity for artifacts.
type Fingerprinter struct {
	chunkSize int
}

func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{chunkSize: fingerprintChunkSize}
}

// Fingerprint streams the file at path through SHA-256. Directories and
// unreadable files fail with domain.ErrArtifactUnreadable; a partial checksum
// is never returned.
func (f *Fingerprinter) Fingerprint(path string) (domain.Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.Fingerprint{}, fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err)
	}
	if info.IsDir() {
		return domain.Fingerprint{}, fmt.Errorf("%w: %s is a directory", domain.ErrArtifactUnreadable, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.Fingerprint{}, fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err)
	}
	defer file.Close()

	return f.FingerprintReader(file)
}

// FingerprintReader hashes everything r yields.
func (f *Fingerprinter) FingerprintReader(r io.Reader) (domain.Fingerprint, error) {
	h := sha256.New()
	n, err := io.CopyBuffer(h, r, make([]byte, f.chunkSize))
	if err != nil {
		return domain.Fingerprint{}, fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err)
	}
	return domain.Fingerprint{
		SHA256:    hex.EncodeToString(h.Sum(nil)),
		SizeBytes: n,
	}, nil
}
