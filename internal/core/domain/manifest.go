package domain

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ============================================================================
// Value Objects
// ============================================================================

// Mode is the kind of operation a manifest records.
type Mode string

const (
	ModeDataset       Mode = "dataset"
	ModeExternalModel Mode = "external_model"
)

// IsValid checks if the mode is valid
func (m Mode) IsValid() bool {
	return m == ModeDataset || m == ModeExternalModel
}

// Status is the outcome of an operation. Only terminal statuses are ever
// persisted; planned and pending_confirmation describe an attempt that is
// still waiting on its caller.
type Status string

const (
	StatusSuccess             Status = "success"
	StatusPartialSuccess      Status = "partial_success"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
	StatusPlanned             Status = "planned"
	StatusPendingConfirmation Status = "pending_confirmation"
)

// Terminal reports whether s ends an attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusPartialSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TerminalStatuses lists the persisted statuses in display order.
var TerminalStatuses = []Status{StatusSuccess, StatusPartialSuccess, StatusFailed, StatusCancelled}

// ============================================================================
// Manifest
// ============================================================================

// ArtifactRecord is the artifact section of a manifest.
type ArtifactRecord struct {
	Filename   string `json:"filename" validate:"required"`
	SHA256     string `json:"sha256" validate:"omitempty,len=64,hexadecimal"`
	SizeBytes  int64  `json:"size_bytes" validate:"gte=0"`
	StorageURL string `json:"storage_url"`
}

// DetectionRecord is the architecture section of a manifest.
type DetectionRecord struct {
	Family     Family          `json:"family"`
	Source     DetectionSource `json:"source"`
	Confidence Confidence      `json:"confidence"`
	Marker     string          `json:"marker,omitempty"`
	Compatible bool            `json:"compatible"`
	Confirmed  bool            `json:"confirmed"`
}

// Manifest is the immutable audit record of one operation.
type Manifest struct {
	OpID             string           `json:"op_id" validate:"required"`
	AppVersion       string           `json:"app_version" validate:"required"`
	Mode             Mode             `json:"mode" validate:"required,oneof=dataset external_model"`
	Workspace        string           `json:"workspace" validate:"required"`
	Project          string           `json:"project" validate:"required"`
	TargetVersion    string           `json:"target_version"`
	Strategy         string           `json:"strategy,omitempty"`
	Artifact         *ArtifactRecord  `json:"artifact,omitempty"`
	Detection        *DetectionRecord `json:"detection,omitempty"`
	Status           Status           `json:"status" validate:"required,oneof=success partial_success failed cancelled"`
	ErrorKind        ErrorKind        `json:"error_kind,omitempty"`
	StartedAt        time.Time        `json:"started_at" validate:"required"`
	EndedAt          time.Time        `json:"ended_at" validate:"required,gtefield=StartedAt"`
	ErrorDetail      string           `json:"error_detail,omitempty"`
	APIResponse      map[string]any   `json:"api_response,omitempty"`
	TrainingResponse map[string]any   `json:"training_response,omitempty"`
	Notes            string           `json:"notes,omitempty"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the record shape shared by every manifest backend.
func (m *Manifest) Validate() error {
	if m == nil {
		return ErrInvalidManifest
	}
	if err := getValidator().Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return nil
}

// NewOperationID returns a unique id whose lexical order follows time order.
func NewOperationID(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s",
		now.UTC().Format("20060102T150405.000000Z"),
		prefix,
		uuid.NewString()[:8],
	)
}

// ============================================================================
// Deployment Attempt
// ============================================================================

// DeploymentAttempt accumulates the manifest of one operation and seals it
// exactly once.
type DeploymentAttempt struct {
	mu        sync.Mutex
	manifest  Manifest
	finalized bool
}

// NewDeploymentAttempt opens an attempt started at startedAt.
func NewDeploymentAttempt(opID, appVersion string, mode Mode, workspace, project string, startedAt time.Time) *DeploymentAttempt {
	return &DeploymentAttempt{
		manifest: Manifest{
			OpID:       opID,
			AppVersion: appVersion,
			Mode:       mode,
			Workspace:  workspace,
			Project:    project,
			StartedAt:  startedAt.UTC(),
		},
	}
}

func (a *DeploymentAttempt) OpID() string {
	return a.manifest.OpID
}

// Update applies fn to the open manifest.
func (a *DeploymentAttempt) Update(fn func(m *Manifest)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return ErrAttemptFinalized
	}
	fn(&a.manifest)
	return nil
}

// Finalize seals the attempt with a terminal status and returns a copy of the
// resulting manifest.
func (a *DeploymentAttempt) Finalize(status Status, kind ErrorKind, detail string, endedAt time.Time) (*Manifest, error) {
	if !status.Terminal() {
		return nil, ErrNonTerminalStatus
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return nil, ErrAttemptFinalized
	}
	a.finalized = true

	a.manifest.Status = status
	a.manifest.ErrorKind = kind
	a.manifest.ErrorDetail = detail
	a.manifest.EndedAt = endedAt.UTC()
	if a.manifest.EndedAt.Before(a.manifest.StartedAt) {
		a.manifest.EndedAt = a.manifest.StartedAt
	}

	m := a.manifest
	return &m, nil
}

func (a *DeploymentAttempt) Finalized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalized
}
