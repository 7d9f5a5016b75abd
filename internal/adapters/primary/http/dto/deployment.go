package dto

import (
	"time"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/services"
)

// ============================================================================
// Deployment DTOs
// ============================================================================

type PlanRequest struct {
	Workspace    string `json:"workspace" binding:"required"`
	Project      string `json:"project" binding:"required"`
	ArtifactPath string `json:"artifact_path" binding:"required"`
	Strategy     string `json:"strategy"`
	Notes        string `json:"notes"`
}

type DeployRequest struct {
	PlanRequest
	ConfirmIncompatible bool `json:"confirm_incompatible"`
}

type CommitRequest struct {
	Confirmed *bool `json:"confirmed" binding:"required"`
}

type DatasetRequest struct {
	Workspace       string `json:"workspace" binding:"required"`
	Project         string `json:"project" binding:"required"`
	ArchivePath     string `json:"archive_path" binding:"required"`
	Description     string `json:"description"`
	TriggerTraining bool   `json:"trigger_training"`
	Notes           string `json:"notes"`
}

type ArtifactResponse struct {
	Filename  string `json:"filename"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

type PlanResponse struct {
	Workspace         string           `json:"workspace"`
	Project           string           `json:"project"`
	Artifact          ArtifactResponse `json:"artifact"`
	Detection         domain.Detection `json:"detection"`
	Verdict           domain.Verdict   `json:"verdict"`
	Strategy          string           `json:"strategy"`
	TargetVersion     domain.Version   `json:"target_version"`
	NeedsConfirmation bool             `json:"needs_confirmation"`
	Reasons           []string         `json:"reasons,omitempty"`
	ExpiresAt         time.Time        `json:"expires_at"`
}

type OutcomeResponse struct {
	OpID      string           `json:"op_id"`
	Status    domain.Status    `json:"status"`
	ErrorKind domain.ErrorKind `json:"error_kind,omitempty"`
	Message   string           `json:"message,omitempty"`
	Guidance  string           `json:"guidance,omitempty"`
	Plan      *PlanResponse    `json:"plan,omitempty"`
	Manifest  *domain.Manifest `json:"manifest,omitempty"`
}

// ToOutcomeResponse includes the plan only while it still awaits a commit.
func ToOutcomeResponse(out *services.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		OpID:      out.OpID,
		Status:    out.Status,
		ErrorKind: out.ErrorKind,
		Message:   out.Message,
		Guidance:  out.Guidance,
		Manifest:  out.Manifest,
	}
	if out.Plan != nil && !out.Status.Terminal() {
		p := ToPlanResponse(out.Plan)
		resp.Plan = &p
	}
	return resp
}

func ToPlanResponse(p *services.Plan) PlanResponse {
	resp := PlanResponse{
		Workspace:         p.Workspace,
		Project:           p.Project,
		Detection:         p.Detection,
		Verdict:           p.Verdict,
		Strategy:          p.Strategy.String(),
		TargetVersion:     p.Version,
		NeedsConfirmation: p.NeedsConfirmation,
		Reasons:           p.Reasons,
		ExpiresAt:         p.ExpiresAt,
	}
	if p.Artifact != nil {
		resp.Artifact = ArtifactResponse{
			Filename:  p.Artifact.Filename,
			SHA256:    p.Artifact.SHA256,
			SizeBytes: p.Artifact.SizeBytes,
		}
	}
	return resp
}
