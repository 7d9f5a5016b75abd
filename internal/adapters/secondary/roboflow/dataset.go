package roboflow

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

// UploadDataset posts a dataset archive as multipart form data, creating a
// new version, then optionally starts training on it.
func (c *Client) UploadDataset(ctx context.Context, req ports.UploadDatasetRequest) (*ports.UploadDatasetResponse, error) {
	f, err := os.Open(req.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err)
	}
	archive, done := c.track(filepath.Base(req.ArchivePath), f, info.Size())

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, archive, filepath.Base(req.ArchivePath), req.Description))
	}()

	q := url.Values{}
	q.Set("name", filepath.Base(req.ArchivePath))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(q, req.Workspace, req.Project, "upload"), pr)
	if err != nil {
		pr.Close()
		done()
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.do(httpReq)
	pr.Close()
	done()
	if err != nil {
		return nil, err
	}
	doc, err := parseBody(body)
	if err != nil {
		return nil, err
	}

	versionID := lastSegment(firstString(doc, "version", "id"))
	out := &ports.UploadDatasetResponse{VersionID: versionID, Response: toMap(doc)}

	log.WithFields(log.Fields{
		"workspace": req.Workspace,
		"project":   req.Project,
		"version":   versionID,
	}).Info("dataset uploaded")

	if !req.TriggerTraining || versionID == "" {
		return out, nil
	}

	training, err := c.triggerTraining(ctx, req.Workspace, req.Project, versionID)
	if err != nil {
		// The version exists by now; a failed trigger is reported alongside it.
		log.WithError(err).WithField("version", versionID).Warn("training trigger failed")
		training = map[string]any{"status": "error", "message": err.Error()}
	}
	out.TrainingResponse = training
	return out, nil
}

func writeForm(mw *multipart.Writer, f io.Reader, name, description string) error {
	if description != "" {
		if err := mw.WriteField("description", description); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) triggerTraining(ctx context.Context, workspace, project, version string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(nil, workspace, project, version, "train"), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	doc, err := parseBody(body)
	if err != nil {
		return nil, err
	}
	return toMap(doc), nil
}
