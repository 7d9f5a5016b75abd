package domain

import (
	"path/filepath"
	"strings"
)

// ============================================================================
// Value Objects
// ============================================================================

// Family is the structural generation of a detection model.
type Family string

const (
	FamilyV5      Family = "V5"
	FamilyV8      Family = "V8"
	FamilyV11     Family = "V11"
	FamilyUnknown Family = "UNKNOWN"
)

// ParseFamily accepts "V8", "v8" or "8".
func ParseFamily(s string) (Family, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "unknown" {
		return FamilyUnknown, true
	}
	switch strings.TrimPrefix(s, "v") {
	case "5":
		return FamilyV5, true
	case "8":
		return FamilyV8, true
	case "11":
		return FamilyV11, true
	}
	return "", false
}

// ModelType is the model type identifier the remote service expects on upload.
func ModelType(f Family) string {
	switch f {
	case FamilyV5:
		return "yolov5"
	case FamilyV11:
		return "yolo11"
	default:
		return "yolov8"
	}
}

// DetectionSource records which stage of the classifier produced a result.
type DetectionSource string

const (
	SourceStructural       DetectionSource = "structural"
	SourceErrorAnalysis    DetectionSource = "error-analysis"
	SourceFilenameFallback DetectionSource = "filename-fallback"
	SourceNone             DetectionSource = "none"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ============================================================================
// Entities
// ============================================================================

// ModuleGraph is what a structural load of a checkpoint exposes: the classes
// the serialized object graph refers to.
type ModuleGraph struct {
	Classes []ClassRef
}

// ClassRef is a fully qualified class reference found in a checkpoint.
type ClassRef struct {
	Module string
	Name   string
}

// Blocks returns the distinct class names in the graph, in first-seen order.
func (g *ModuleGraph) Blocks() []string {
	if g == nil {
		return nil
	}
	seen := make(map[string]bool, len(g.Classes))
	blocks := make([]string, 0, len(g.Classes))
	for _, c := range g.Classes {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		blocks = append(blocks, c.Name)
	}
	return blocks
}

// Detection is the typed result of architecture classification.
type Detection struct {
	Family     Family          `json:"family"`
	Source     DetectionSource `json:"source"`
	Confidence Confidence      `json:"confidence"`
	Marker     string          `json:"marker,omitempty"`
	Blocks     []string        `json:"blocks,omitempty"`
	Diagnostic string          `json:"diagnostic,omitempty"`
}

// Ambiguous reports whether the result came from a heuristic rather than the
// artifact's structure.
func (d Detection) Ambiguous() bool {
	return d.Source == SourceFilenameFallback || d.Source == SourceNone
}

// Verdict is the advisory compatibility judgement surfaced to the caller.
type Verdict struct {
	Compatible bool   `json:"compatible"`
	Family     Family `json:"family"`
	Supported  Family `json:"supported"`
	Message    string `json:"message"`
}

// Fingerprint identifies artifact bytes.
type Fingerprint struct {
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// Artifact is a local model or dataset file selected for an operation.
type Artifact struct {
	Path     string
	Filename string
	Fingerprint
	Detection  *Detection
	StorageURL string
}

// NewArtifact builds an Artifact for path with its computed fingerprint.
func NewArtifact(path string, fp Fingerprint) *Artifact {
	return &Artifact{
		Path:        path,
		Filename:    filepath.Base(path),
		Fingerprint: fp,
	}
}

// Record projects the artifact into its manifest form.
func (a *Artifact) Record() *ArtifactRecord {
	if a == nil {
		return nil
	}
	return &ArtifactRecord{
		Filename:   a.Filename,
		SHA256:     a.SHA256,
		SizeBytes:  a.SizeBytes,
		StorageURL: a.StorageURL,
	}
}

var modelExtensions = map[string]bool{
	".pt":     true,
	".onnx":   true,
	".engine": true,
	".tflite": true,
	".pb":     true,
}

// ValidateModelExtension checks path against the accepted model artifact types.
func ValidateModelExtension(path string) error {
	if !modelExtensions[strings.ToLower(filepath.Ext(path))] {
		return ErrUnsupportedArtifact
	}
	return nil
}

// ValidateDatasetArchive checks that path names a zip archive.
func ValidateDatasetArchive(path string) error {
	if strings.ToLower(filepath.Ext(path)) != ".zip" {
		return ErrInvalidDatasetArchive
	}
	return nil
}
