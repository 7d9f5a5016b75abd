package domain

import (
	"errors"
	"fmt"
	"regexp"
)

// ============================================================================
// Artifact Errors
// ============================================================================

var (
	ErrArtifactUnreadable    = errors.New("artifact is unreadable")
	ErrUnsupportedArtifact   = errors.New("unsupported artifact extension (expected .pt, .onnx, .engine, .tflite or .pb)")
	ErrInvalidDatasetArchive = errors.New("dataset archive must be a .zip file")
	ErrChecksumMismatch      = errors.New("stored artifact checksum does not match")
	ErrUnsupportedContainer  = errors.New("artifact container is not a loadable checkpoint")
	ErrMalformedArchive      = errors.New("checkpoint archive is malformed")
)

// ============================================================================
// Version Selection Errors
// ============================================================================

var (
	ErrNoUntrainedVersion = errors.New("no untrained version available; create a new version first")
	ErrVersionNotFound    = errors.New("version not found in project")
	ErrInvalidStrategy    = errors.New("strategy must be \"auto\" or \"manual:<version_id>\"")
)

// ============================================================================
// Orchestration Errors
// ============================================================================

var (
	ErrInvalidRequest           = errors.New("invalid request")
	ErrIncompatibleArchitecture = errors.New("model architecture is not accepted by the remote service")
	ErrUserCancelled            = errors.New("operation cancelled by user")
	ErrPlanNotFound             = errors.New("plan not found or confirmation window expired")
	ErrPlanAlreadyCommitted     = errors.New("plan has already been committed")
	ErrAttemptFinalized         = errors.New("deployment attempt already finalized")
	ErrNonTerminalStatus        = errors.New("status is not terminal")
	ErrLocalStoreFailed         = errors.New("local artifact store failed")
)

// ============================================================================
// Remote Errors
// ============================================================================

var (
	ErrRemoteAuth        = errors.New("remote authentication failed")
	ErrRemoteNotFound    = errors.New("remote resource not found")
	ErrRemoteTimeout     = errors.New("remote request timed out")
	ErrRemoteRejected    = errors.New("remote service rejected the request")
	ErrRemoteUnavailable = errors.New("remote service unavailable")
)

// ============================================================================
// Manifest Errors
// ============================================================================

var (
	ErrManifestExists   = errors.New("manifest already exists for this operation id")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("manifest record is invalid")
	ErrWatchUnsupported = errors.New("manifest store cannot be watched")
)

// ErrorKind is the stable, machine-readable classification recorded in manifests.
type ErrorKind string

const (
	KindNone                     ErrorKind = ""
	KindArtifactUnreadable       ErrorKind = "ArtifactUnreadable"
	KindDetectionAmbiguous       ErrorKind = "DetectionAmbiguous"
	KindIncompatibleArchitecture ErrorKind = "IncompatibleArchitecture"
	KindNoUntrainedVersion       ErrorKind = "NoUntrainedVersionAvailable"
	KindVersionNotFound          ErrorKind = "VersionNotFound"
	KindRemoteAuth               ErrorKind = "RemoteAuthError"
	KindRemoteNotFound           ErrorKind = "RemoteNotFound"
	KindRemoteTimeout            ErrorKind = "RemoteTimeout"
	KindRemoteRejected           ErrorKind = "RemoteRejected"
	KindUserCancelled            ErrorKind = "UserCancelled"
	KindLocalStoreFailed         ErrorKind = "LocalStoreFailed"
	KindInvalidRequest           ErrorKind = "InvalidRequest"
)

// KindOf classifies err into the manifest error taxonomy.
func KindOf(err error) ErrorKind {
	var unresolved *UnresolvedClassError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrArtifactUnreadable):
		return KindArtifactUnreadable
	case errors.Is(err, ErrUnsupportedArtifact),
		errors.Is(err, ErrInvalidDatasetArchive),
		errors.Is(err, ErrInvalidStrategy),
		errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrIncompatibleArchitecture):
		return KindIncompatibleArchitecture
	case errors.Is(err, ErrNoUntrainedVersion):
		return KindNoUntrainedVersion
	case errors.Is(err, ErrVersionNotFound):
		return KindVersionNotFound
	case errors.Is(err, ErrUserCancelled):
		return KindUserCancelled
	case errors.Is(err, ErrLocalStoreFailed), errors.Is(err, ErrChecksumMismatch):
		return KindLocalStoreFailed
	case errors.Is(err, ErrRemoteAuth):
		return KindRemoteAuth
	case errors.Is(err, ErrRemoteNotFound):
		return KindRemoteNotFound
	case errors.Is(err, ErrRemoteTimeout):
		return KindRemoteTimeout
	case errors.As(err, &unresolved),
		errors.Is(err, ErrRemoteRejected),
		errors.Is(err, ErrRemoteUnavailable):
		return KindRemoteRejected
	default:
		return KindRemoteRejected
	}
}

// Guidance returns an actionable hint for the operator, or "" if none applies.
func Guidance(kind ErrorKind) string {
	switch kind {
	case KindArtifactUnreadable:
		return "check that the model file exists and is readable"
	case KindIncompatibleArchitecture:
		return "convert the model to the supported architecture or confirm to proceed anyway"
	case KindNoUntrainedVersion:
		return "create a new dataset version in the remote project, then retry"
	case KindVersionNotFound:
		return "refresh the version list and pick an existing version"
	case KindRemoteAuth:
		return "check the API key and its access to the workspace"
	case KindRemoteNotFound:
		return "check the workspace and project identifiers"
	case KindRemoteTimeout:
		return "large uploads may time out; keep the local artifact copy and link it by metadata instead of a full upload"
	case KindLocalStoreFailed:
		return "check free space and permissions of the artifacts directory"
	default:
		return ""
	}
}

// UnresolvedClassError reports a checkpoint that references a class the
// loading runtime does not know. It is the typed form of the deserialization
// failure that older runtimes raise for newer architectures.
type UnresolvedClassError struct {
	Module string
	Name   string
}

func (e *UnresolvedClassError) Error() string {
	return fmt.Sprintf("Can't get attribute '%s' on <module '%s'>", e.Name, e.Module)
}

// Matches the diagnostic shapes produced by pickle-based loaders, e.g.
//
//	Can't get attribute 'C3k2' on <module 'ultralytics.nn.modules.block'>
//	module 'ultralytics.nn.modules' has no attribute 'C2PSA'
//	unknown class: ultralytics.nn.modules.block.C3k2
var unresolvedClassPattern = regexp.MustCompile(
	`(?:Can't get attribute|has no attribute|unknown class:?|cannot find class:?)\s+'?(?:[A-Za-z_][A-Za-z0-9_]*\.)*([A-Za-z_][A-Za-z0-9_]*)'?`,
)

// ParseUnresolvedClass extracts the class name from a deserialization
// diagnostic. ok is false when msg does not have a known shape.
func ParseUnresolvedClass(msg string) (name string, ok bool) {
	m := unresolvedClassPattern.FindStringSubmatch(msg)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// UnresolvedClassName returns the unresolved class named by err, checking the
// typed error first and the message text second.
func UnresolvedClassName(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var unresolved *UnresolvedClassError
	if errors.As(err, &unresolved) {
		return unresolved.Name, true
	}
	return ParseUnresolvedClass(err.Error())
}

// CorruptManifestError reports a stored record that could not be decoded or
// validated. Listings yield it and keep going.
type CorruptManifestError struct {
	Source string
	Err    error
}

func (e *CorruptManifestError) Error() string {
	return fmt.Sprintf("corrupt manifest %s: %v", e.Source, e.Err)
}

func (e *CorruptManifestError) Unwrap() error { return e.Err }
