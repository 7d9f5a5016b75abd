package roboflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

// DeployArtifact uploads a model file to a version: it asks the service for
// a signed upload URL, then PUTs the file there.
func (c *Client) DeployArtifact(ctx context.Context, req ports.DeployArtifactRequest) (*ports.DeployArtifactResponse, error) {
	if err := c.checkPackaging(req.LocalPath); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("modelType", req.ModelType)
	q.Set("nocache", "true")
	doc, err := c.getJSON(ctx, c.endpoint(q, req.Workspace, req.Project, req.Version, "uploadModel"))
	if err != nil {
		return nil, err
	}

	uploadURL := doc.Get("url").String()
	if uploadURL == "" {
		detail := errorMessage([]byte(doc.Raw))
		if detail == "" {
			detail = "service did not return an upload URL"
		}
		return &ports.DeployArtifactResponse{Response: toMap(doc), ErrorDetail: detail}, nil
	}

	if err := c.putFile(ctx, uploadURL, req.LocalPath, req.Checksum); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"workspace":  req.Workspace,
		"project":    req.Project,
		"version":    req.Version,
		"model_type": req.ModelType,
	}).Info("model uploaded")

	return &ports.DeployArtifactResponse{
		Accepted: true,
		Response: map[string]any{
			"status":     "deployed",
			"workspace":  req.Workspace,
			"project":    req.Project,
			"version":    req.Version,
			"model_type": req.ModelType,
			"checksum":   req.Checksum,
		},
	}, nil
}

// checkPackaging fails the way the service's runtime would for checkpoints
// that reference classes it does not have.
func (c *Client) checkPackaging(path string) error {
	if c.packager == nil || !strings.EqualFold(filepath.Ext(path), ".pt") {
		return nil
	}
	_, err := c.packager.Load(path)
	var unresolved *domain.UnresolvedClassError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &unresolved):
		return fmt.Errorf("package model: %w", err)
	case errors.Is(err, domain.ErrArtifactUnreadable):
		return err
	default:
		return fmt.Errorf("%w: package model: %v", domain.ErrRemoteRejected, err)
	}
}

// putFile streams path to uploadURL. When checksum is set the body is hashed
// on the way out and the final chunk is withheld if the bytes differ from the
// ones that were fingerprinted, so the service never receives a complete file
// that was modified after verification.
func (c *Client) putFile(ctx context.Context, uploadURL, path, checksum string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err)
	}

	var src io.Reader = f
	var verified *verifyingReader
	if checksum != "" {
		verified = &verifyingReader{r: f, h: sha256.New(), size: info.Size(), want: checksum}
		src = verified
	}

	body, done := c.track(filepath.Base(path), src, info.Size())
	defer done()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if verr := verified.failure(); verr != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return verr
	}
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp.StatusCode, nil)
	}
	return nil
}

// verifyingReader hashes a size-byte body as it is read and fails the read
// that would complete it unless the digest equals want.
type verifyingReader struct {
	r    io.Reader
	h    hash.Hash
	size int64
	read int64
	want string

	mu  sync.Mutex
	err error
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return 0, v.err
	}
	n, err := v.r.Read(p)
	v.h.Write(p[:n])
	v.read += int64(n)
	if (n > 0 && v.read >= v.size) || (errors.Is(err, io.EOF) && v.read < v.size) {
		if got := hex.EncodeToString(v.h.Sum(nil)); v.read != v.size || got != v.want {
			v.err = fmt.Errorf("%w: uploaded bytes hash to %s, expected %s", domain.ErrChecksumMismatch, got, v.want)
			return 0, v.err
		}
	}
	return n, err
}

func (v *verifyingReader) failure() error {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}
