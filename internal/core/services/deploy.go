package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

const (
	opPrefixModel   = "ext"
	opPrefixDataset = "ds"

	detailConfirmationExpired = "confirmation window expired"
	detailDeclined            = "deployment declined at confirmation"
	detailShutdown            = "service shut down before confirmation"
)

// DeployDeps are the collaborators of DeployService.
type DeployDeps struct {
	Hierarchy     ports.HierarchyClient
	Deployer      ports.ModelDeployer
	Datasets      ports.DatasetUploader
	Store         ports.ArtifactStore
	Manifests     ports.ManifestRepository
	Events        ports.EventLog
	Fingerprinter *Fingerprinter
	Detector      *ArchitectureDetector
	Resolver      *VersionResolver
}

type DeployConfig struct {
	AppVersion    string
	PlanTTL       time.Duration
	PlanCacheSize int
	Now           func() time.Time
}

type PlanRequest struct {
	Workspace    string
	Project      string
	ArtifactPath string
	Strategy     domain.Strategy
	Notes        string
}

type DatasetRequest struct {
	Workspace       string
	Project         string
	ArchivePath     string
	Description     string
	TriggerTraining bool
	Notes           string
}

// Plan is the result of the read-only steps of a deployment, held until the
// caller commits or abandons it.
type Plan struct {
	OpID              string
	Workspace         string
	Project           string
	Artifact          *domain.Artifact
	Detection         domain.Detection
	Verdict           domain.Verdict
	Strategy          domain.Strategy
	Version           domain.Version
	NeedsConfirmation bool
	Reasons           []string
	ExpiresAt         time.Time

	attempt *domain.DeploymentAttempt
	mu      sync.Mutex
	claimed bool
}

// claim marks the plan as committed. Only the first caller wins.
func (p *Plan) claim() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.claimed {
		return false
	}
	p.claimed = true
	return true
}

// Outcome is what every orchestrator entry point returns. Manifest is set
// once the attempt has reached a terminal status.
type Outcome struct {
	OpID      string
	Status    domain.Status
	Plan      *Plan
	Manifest  *domain.Manifest
	ErrorKind domain.ErrorKind
	Message   string
	Guidance  string
}

// DeployService orchestrates deployments and dataset uploads. Every attempt
// it starts ends in exactly one manifest.
type DeployService struct {
	hierarchy     ports.HierarchyClient
	deployer      ports.ModelDeployer
	datasets      ports.DatasetUploader
	store         ports.ArtifactStore
	manifests     ports.ManifestRepository
	events        ports.EventLog
	fingerprinter *Fingerprinter
	detector      *ArchitectureDetector
	resolver      *VersionResolver

	appVersion string
	planTTL    time.Duration
	now        func() time.Time
	pending    *expirable.LRU[string, *Plan]
	closing    atomic.Bool
}

func NewDeployService(deps DeployDeps, cfg DeployConfig) *DeployService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PlanTTL <= 0 {
		cfg.PlanTTL = 15 * time.Minute
	}
	if cfg.PlanCacheSize <= 0 {
		cfg.PlanCacheSize = 256
	}

	s := &DeployService{
		hierarchy:     deps.Hierarchy,
		deployer:      deps.Deployer,
		datasets:      deps.Datasets,
		store:         deps.Store,
		manifests:     deps.Manifests,
		events:        deps.Events,
		fingerprinter: deps.Fingerprinter,
		detector:      deps.Detector,
		resolver:      deps.Resolver,
		appVersion:    cfg.AppVersion,
		planTTL:       cfg.PlanTTL,
		now:           cfg.Now,
	}
	s.pending = expirable.NewLRU[string, *Plan](cfg.PlanCacheSize, s.onPlanEvicted, cfg.PlanTTL)
	return s
}

// Close cancels every plan still waiting for confirmation, writing its
// manifest. The service must not be used afterwards.
func (s *DeployService) Close() {
	s.closing.Store(true)
	s.pending.Purge()
}

// ============================================================================
// External model deployment
// ============================================================================

// Plan runs fingerprinting, detection and version resolution. Failures end
// the attempt with a failed manifest; otherwise the plan is held for Commit.
func (s *DeployService) Plan(ctx context.Context, req PlanRequest) (*Outcome, error) {
	if err := requireTarget(req.Workspace, req.Project, req.ArtifactPath); err != nil {
		return nil, err
	}
	if req.Strategy.Mode == "" {
		req.Strategy = domain.AutoStrategy()
	}

	started := s.now()
	attempt := domain.NewDeploymentAttempt(
		domain.NewOperationID(opPrefixModel, started),
		s.appVersion, domain.ModeExternalModel, req.Workspace, req.Project, started,
	)
	opID := attempt.OpID()
	_ = attempt.Update(func(m *domain.Manifest) {
		m.Strategy = req.Strategy.String()
		m.Notes = req.Notes
		m.Artifact = &domain.ArtifactRecord{Filename: baseName(req.ArtifactPath)}
	})

	if err := domain.ValidateModelExtension(req.ArtifactPath); err != nil {
		return s.fail(ctx, attempt, nil, "model_deploy_failed", err)
	}

	fp, err := s.fingerprinter.Fingerprint(req.ArtifactPath)
	if err != nil {
		return s.fail(ctx, attempt, nil, "model_deploy_failed", err)
	}
	artifact := domain.NewArtifact(req.ArtifactPath, fp)
	_ = attempt.Update(func(m *domain.Manifest) { m.Artifact = artifact.Record() })
	s.events.Info("artifact_fingerprinted", map[string]any{
		"op_id":      opID,
		"filename":   artifact.Filename,
		"sha256":     artifact.SHA256,
		"size_bytes": artifact.SizeBytes,
	})

	det := s.detector.Detect(req.ArtifactPath)
	artifact.Detection = &det
	verdict := s.detector.Verdict(det)
	_ = attempt.Update(func(m *domain.Manifest) {
		m.Detection = &domain.DetectionRecord{
			Family:     det.Family,
			Source:     det.Source,
			Confidence: det.Confidence,
			Marker:     det.Marker,
			Compatible: verdict.Compatible,
		}
	})
	s.events.Info("model_detected", map[string]any{
		"op_id":      opID,
		"family":     det.Family,
		"source":     det.Source,
		"confidence": det.Confidence,
		"marker":     det.Marker,
		"compatible": verdict.Compatible,
	})

	if ctx.Err() != nil {
		return s.cancel(ctx, attempt, nil, ctx.Err().Error())
	}

	versions, err := s.hierarchy.ListVersions(ctx, req.Workspace, req.Project)
	if err != nil {
		s.events.Error("list_versions", map[string]any{
			"op_id":     opID,
			"workspace": req.Workspace,
			"project":   req.Project,
			"error":     err.Error(),
		})
		return s.fail(ctx, attempt, nil, "model_deploy_failed", fmt.Errorf("list versions: %w", err))
	}
	s.events.Info("list_versions", map[string]any{
		"op_id":     opID,
		"workspace": req.Workspace,
		"project":   req.Project,
		"count":     len(versions),
	})

	version, err := s.resolver.Resolve(versions, req.Strategy)
	if err != nil {
		return s.fail(ctx, attempt, nil, "model_deploy_failed", err)
	}
	_ = attempt.Update(func(m *domain.Manifest) { m.TargetVersion = version.ID })
	s.events.Info("version_resolved", map[string]any{
		"op_id":    opID,
		"strategy": req.Strategy.String(),
		"version":  version.ID,
		"trained":  version.Trained,
	})

	plan := &Plan{
		OpID:      opID,
		Workspace: req.Workspace,
		Project:   req.Project,
		Artifact:  artifact,
		Detection: det,
		Verdict:   verdict,
		Strategy:  req.Strategy,
		Version:   version,
		ExpiresAt: started.Add(s.planTTL),
		attempt:   attempt,
	}
	if !verdict.Compatible {
		plan.Reasons = append(plan.Reasons, verdict.Message)
	}
	if req.Strategy.Mode == domain.StrategyManual && version.Trained {
		plan.Reasons = append(plan.Reasons,
			fmt.Sprintf("version %s already has a trained model; deploying replaces it", version.ID))
	}
	plan.NeedsConfirmation = len(plan.Reasons) > 0

	out := &Outcome{OpID: opID, Plan: plan, Status: domain.StatusPlanned}
	if plan.NeedsConfirmation {
		out.Status = domain.StatusPendingConfirmation
		out.Message = strings.Join(plan.Reasons, "; ")
		switch {
		case verdict.Compatible:
		case det.Ambiguous():
			out.ErrorKind = domain.KindDetectionAmbiguous
		default:
			out.ErrorKind = domain.KindIncompatibleArchitecture
		}
		out.Guidance = domain.Guidance(out.ErrorKind)
		s.events.Warn("confirmation_required", map[string]any{
			"op_id":   opID,
			"reasons": plan.Reasons,
		})
	}

	s.pending.Add(opID, plan)
	return out, nil
}

// CommitByID commits a plan held in the pending registry.
func (s *DeployService) CommitByID(ctx context.Context, opID string, confirmed bool) (*Outcome, error) {
	plan, ok := s.pending.Get(opID)
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return s.Commit(ctx, plan, confirmed)
}

// Commit finishes a plan. Declining, or a context cancelled before the
// upload starts, ends the attempt as cancelled. Once the artifact store is
// touched the attempt runs to completion regardless of ctx.
func (s *DeployService) Commit(ctx context.Context, plan *Plan, confirmed bool) (*Outcome, error) {
	if plan == nil || plan.attempt == nil {
		return nil, domain.ErrPlanNotFound
	}
	if !plan.claim() {
		return nil, domain.ErrPlanAlreadyCommitted
	}
	s.pending.Remove(plan.OpID)

	if !confirmed {
		return s.cancel(ctx, plan.attempt, plan, detailDeclined)
	}
	if err := ctx.Err(); err != nil {
		return s.cancel(ctx, plan.attempt, plan, err.Error())
	}
	_ = plan.attempt.Update(func(m *domain.Manifest) {
		if m.Detection != nil {
			m.Detection.Confirmed = plan.NeedsConfirmation
		}
	})

	ctx = context.WithoutCancel(ctx)
	opID := plan.OpID

	url, err := s.store.Put(ctx, plan.Artifact.Path, plan.Artifact.SHA256)
	if err != nil {
		return s.fail(ctx, plan.attempt, plan, "model_deploy_failed",
			fmt.Errorf("%w: %v", domain.ErrLocalStoreFailed, err))
	}
	plan.Artifact.StorageURL = url
	_ = plan.attempt.Update(func(m *domain.Manifest) { m.Artifact = plan.Artifact.Record() })
	s.events.Info("artifact_stored", map[string]any{
		"op_id":       opID,
		"sha256":      plan.Artifact.SHA256,
		"storage_url": url,
	})

	resp, err := s.deployer.DeployArtifact(ctx, ports.DeployArtifactRequest{
		Workspace: plan.Workspace,
		Project:   plan.Project,
		Version:   plan.Version.ID,
		LocalPath: plan.Artifact.Path,
		Checksum:  plan.Artifact.SHA256,
		ModelType: domain.ModelType(plan.Detection.Family),
	})

	if err == nil && resp != nil && resp.Accepted {
		s.events.Info("model_deployed", map[string]any{
			"op_id":   opID,
			"version": plan.Version.ID,
			"family":  plan.Detection.Family,
		})
		return s.conclude(ctx, plan.attempt, plan, domain.StatusSuccess, domain.KindNone, "", func(m *domain.Manifest) {
			m.APIResponse = resp.Response
		})
	}

	detail := deployFailureDetail(resp, err)
	if class, ok := unresolvedClassIn(resp, err); ok {
		s.events.Warn("model_deploy_partial", map[string]any{
			"op_id":   opID,
			"version": plan.Version.ID,
			"class":   class,
			"error":   detail,
		})
		return s.conclude(ctx, plan.attempt, plan, domain.StatusPartialSuccess, domain.KindRemoteRejected, detail, func(m *domain.Manifest) {
			m.APIResponse = map[string]any{"status": "stored_locally", "error": detail}
		})
	}

	kind := domain.KindRemoteRejected
	if err != nil {
		kind = domain.KindOf(err)
	}
	s.events.Error("model_deploy_failed", map[string]any{
		"op_id":      opID,
		"version":    plan.Version.ID,
		"error_kind": kind,
		"error":      detail,
	})
	return s.conclude(ctx, plan.attempt, plan, domain.StatusFailed, kind, detail, func(m *domain.Manifest) {
		if resp != nil {
			m.APIResponse = resp.Response
		}
	})
}

// Deploy is the single-call form: plan, then commit when no confirmation is
// needed or confirm is set. Otherwise the pending outcome is returned and the
// plan can still be committed by id until it expires.
func (s *DeployService) Deploy(ctx context.Context, req PlanRequest, confirm bool) (*Outcome, error) {
	out, err := s.Plan(ctx, req)
	if err != nil || out.Status.Terminal() {
		return out, err
	}
	if out.Plan.NeedsConfirmation && !confirm {
		return out, nil
	}
	return s.Commit(ctx, out.Plan, true)
}

// onPlanEvicted closes plans that left the registry without a commit.
func (s *DeployService) onPlanEvicted(opID string, plan *Plan) {
	if plan == nil || !plan.claim() {
		return
	}
	detail := detailConfirmationExpired
	if s.closing.Load() {
		detail = detailShutdown
	}
	if _, err := s.cancel(context.Background(), plan.attempt, plan, detail); err != nil {
		s.events.Error("manifest_write_failed", map[string]any{"op_id": opID, "error": err.Error()})
	}
}

// ============================================================================
// Dataset upload
// ============================================================================

// UploadDataset stores a dataset archive locally and uploads it as a new
// version, optionally starting training.
func (s *DeployService) UploadDataset(ctx context.Context, req DatasetRequest) (*Outcome, error) {
	if err := requireTarget(req.Workspace, req.Project, req.ArchivePath); err != nil {
		return nil, err
	}

	started := s.now()
	attempt := domain.NewDeploymentAttempt(
		domain.NewOperationID(opPrefixDataset, started),
		s.appVersion, domain.ModeDataset, req.Workspace, req.Project, started,
	)
	opID := attempt.OpID()
	_ = attempt.Update(func(m *domain.Manifest) {
		m.Notes = req.Notes
		m.Artifact = &domain.ArtifactRecord{Filename: baseName(req.ArchivePath)}
	})

	if err := domain.ValidateDatasetArchive(req.ArchivePath); err != nil {
		return s.fail(ctx, attempt, nil, "dataset_upload_failed", err)
	}
	fp, err := s.fingerprinter.Fingerprint(req.ArchivePath)
	if err != nil {
		return s.fail(ctx, attempt, nil, "dataset_upload_failed", err)
	}
	archive := domain.NewArtifact(req.ArchivePath, fp)
	_ = attempt.Update(func(m *domain.Manifest) { m.Artifact = archive.Record() })
	s.events.Info("artifact_fingerprinted", map[string]any{
		"op_id":      opID,
		"filename":   archive.Filename,
		"sha256":     archive.SHA256,
		"size_bytes": archive.SizeBytes,
	})

	if err := ctx.Err(); err != nil {
		return s.cancel(ctx, attempt, nil, err.Error())
	}
	ctx = context.WithoutCancel(ctx)

	url, err := s.store.Put(ctx, archive.Path, archive.SHA256)
	if err != nil {
		return s.fail(ctx, attempt, nil, "dataset_upload_failed",
			fmt.Errorf("%w: %v", domain.ErrLocalStoreFailed, err))
	}
	archive.StorageURL = url
	_ = attempt.Update(func(m *domain.Manifest) { m.Artifact = archive.Record() })
	s.events.Info("artifact_stored", map[string]any{
		"op_id":       opID,
		"sha256":      archive.SHA256,
		"storage_url": url,
	})

	resp, err := s.datasets.UploadDataset(ctx, ports.UploadDatasetRequest{
		Workspace:       req.Workspace,
		Project:         req.Project,
		ArchivePath:     archive.Path,
		Description:     req.Description,
		TriggerTraining: req.TriggerTraining,
	})
	if err != nil {
		return s.fail(ctx, attempt, nil, "dataset_upload_failed", err)
	}

	s.events.Info("dataset_uploaded", map[string]any{
		"op_id":    opID,
		"version":  resp.VersionID,
		"training": req.TriggerTraining,
	})
	if resp.TrainingResponse["status"] == "error" {
		s.events.Warn("training_trigger_failed", map[string]any{
			"op_id":   opID,
			"version": resp.VersionID,
			"error":   resp.TrainingResponse["message"],
		})
	}
	return s.conclude(ctx, attempt, nil, domain.StatusSuccess, domain.KindNone, "", func(m *domain.Manifest) {
		m.TargetVersion = resp.VersionID
		m.APIResponse = resp.Response
		m.TrainingResponse = resp.TrainingResponse
	})
}

// ============================================================================
// Finalization
// ============================================================================

func (s *DeployService) fail(ctx context.Context, attempt *domain.DeploymentAttempt, plan *Plan, event string, cause error) (*Outcome, error) {
	kind := domain.KindOf(cause)
	s.events.Error(event, map[string]any{
		"op_id":      attempt.OpID(),
		"error_kind": kind,
		"error":      cause.Error(),
	})
	return s.conclude(ctx, attempt, plan, domain.StatusFailed, kind, cause.Error(), nil)
}

func (s *DeployService) cancel(ctx context.Context, attempt *domain.DeploymentAttempt, plan *Plan, detail string) (*Outcome, error) {
	s.events.Warn("attempt_cancelled", map[string]any{
		"op_id":  attempt.OpID(),
		"reason": detail,
	})
	return s.conclude(ctx, attempt, plan, domain.StatusCancelled, domain.KindUserCancelled, detail, nil)
}

// conclude is the single exit of every attempt: it seals the manifest,
// persists it and reports the outcome.
func (s *DeployService) conclude(ctx context.Context, attempt *domain.DeploymentAttempt, plan *Plan, status domain.Status, kind domain.ErrorKind, detail string, mutate func(m *domain.Manifest)) (*Outcome, error) {
	if mutate != nil {
		if err := attempt.Update(mutate); err != nil {
			return nil, err
		}
	}
	manifest, err := attempt.Finalize(status, kind, detail, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.manifests.Write(context.WithoutCancel(ctx), manifest); err != nil {
		s.events.Error("manifest_write_failed", map[string]any{
			"op_id":  manifest.OpID,
			"status": manifest.Status,
			"error":  err.Error(),
		})
		return nil, fmt.Errorf("write manifest %s: %w", manifest.OpID, err)
	}
	s.events.Info("manifest_written", map[string]any{
		"op_id":  manifest.OpID,
		"mode":   manifest.Mode,
		"status": manifest.Status,
	})

	out := &Outcome{
		OpID:      manifest.OpID,
		Status:    status,
		Plan:      plan,
		Manifest:  manifest,
		ErrorKind: kind,
		Message:   detail,
		Guidance:  domain.Guidance(kind),
	}
	if out.Message == "" {
		out.Message = string(status)
	}
	return out, nil
}

func deployFailureDetail(resp *ports.DeployArtifactResponse, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case resp == nil:
		return "remote service returned no response"
	case resp.ErrorDetail != "":
		return resp.ErrorDetail
	default:
		return "remote service did not accept the artifact"
	}
}

// unresolvedClassIn looks for the deserialization signature that marks a
// format mismatch on the remote side.
func unresolvedClassIn(resp *ports.DeployArtifactResponse, err error) (string, bool) {
	if name, ok := domain.UnresolvedClassName(err); ok {
		return name, true
	}
	if resp != nil && resp.ErrorDetail != "" {
		return domain.ParseUnresolvedClass(resp.ErrorDetail)
	}
	return "", false
}

func requireTarget(workspace, project, path string) error {
	switch {
	case workspace == "":
		return fmt.Errorf("%w: workspace is required", domain.ErrInvalidRequest)
	case project == "":
		return fmt.Errorf("%w: project is required", domain.ErrInvalidRequest)
	case path == "":
		return fmt.Errorf("%w: file path is required", domain.ErrInvalidRequest)
	}
	return nil
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
