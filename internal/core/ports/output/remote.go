package ports

import (
	"context"

	"model-uploader/internal/core/domain"
)

// HierarchyClient lists the remote workspace / project / version tree.
type HierarchyClient interface {
	ListWorkspaces(ctx context.Context) ([]domain.Workspace, error)
	ListProjects(ctx context.Context, workspace string) ([]domain.Project, error)
	ListVersions(ctx context.Context, workspace, project string) ([]domain.Version, error)
}

// DeployArtifactRequest describes one external model upload.
type DeployArtifactRequest struct {
	Workspace string
	Project   string
	Version   string
	LocalPath string
	Checksum  string
	ModelType string
}

// DeployArtifactResponse is what the remote service answered. Accepted is
// false when the service returned a body describing a failure; ErrorDetail
// then carries the service's own diagnostic.
type DeployArtifactResponse struct {
	Accepted    bool
	Response    map[string]any
	ErrorDetail string
}

// ModelDeployer uploads an external model artifact to a version.
type ModelDeployer interface {
	DeployArtifact(ctx context.Context, req DeployArtifactRequest) (*DeployArtifactResponse, error)
}

type UploadDatasetRequest struct {
	Workspace       string
	Project         string
	ArchivePath     string
	Description     string
	TriggerTraining bool
}

type UploadDatasetResponse struct {
	VersionID        string
	Response         map[string]any
	TrainingResponse map[string]any
}

// DatasetUploader uploads a dataset archive, creating a new version.
type DatasetUploader interface {
	UploadDataset(ctx context.Context, req UploadDatasetRequest) (*UploadDatasetResponse, error)
}
