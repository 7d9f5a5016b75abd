package services

import (
	"fmt"
	"path/filepath"
	"strings"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

// MarkerRule maps a building block unique to one generation to that family.
type MarkerRule struct {
	Block  string
	Family domain.Family
}

// FilenameRule maps a lowercase substring of an artifact's base name to a family.
type FilenameRule struct {
	Pattern string
	Family  domain.Family
}

// DetectorRules are the ordered tables driving classification. Earlier
// rules win, so more specific markers must come first.
type DetectorRules struct {
	Markers   []MarkerRule
	Filenames []FilenameRule
	Supported domain.Family
}

func DefaultDetectorRules() DetectorRules {
	return DetectorRules{
		Markers: []MarkerRule{
			{Block: "C3k2", Family: domain.FamilyV11},
			{Block: "C2PSA", Family: domain.FamilyV11},
			{Block: "C2f", Family: domain.FamilyV8},
			{Block: "C3", Family: domain.FamilyV5},
		},
		Filenames: []FilenameRule{
			{Pattern: "yolo11", Family: domain.FamilyV11},
			{Pattern: "yolov11", Family: domain.FamilyV11},
			{Pattern: "v11", Family: domain.FamilyV11},
			{Pattern: "yolov8", Family: domain.FamilyV8},
			{Pattern: "v8", Family: domain.FamilyV8},
			{Pattern: "yolov5", Family: domain.FamilyV5},
			{Pattern: "v5", Family: domain.FamilyV5},
		},
		Supported: domain.FamilyV8,
	}
}

// ParseDetectorRules builds rules from NAME=FAMILY pairs.
func ParseDetectorRules(markers, filenames [][2]string, supported string) (DetectorRules, error) {
	var rules DetectorRules
	for _, m := range markers {
		family, ok := domain.ParseFamily(m[1])
		if !ok || family == domain.FamilyUnknown {
			return DetectorRules{}, fmt.Errorf("marker %s: unknown family %q", m[0], m[1])
		}
		rules.Markers = append(rules.Markers, MarkerRule{Block: m[0], Family: family})
	}
	for _, f := range filenames {
		family, ok := domain.ParseFamily(f[1])
		if !ok || family == domain.FamilyUnknown {
			return DetectorRules{}, fmt.Errorf("filename rule %s: unknown family %q", f[0], f[1])
		}
		rules.Filenames = append(rules.Filenames, FilenameRule{Pattern: strings.ToLower(f[0]), Family: family})
	}
	family, ok := domain.ParseFamily(supported)
	if !ok || family == domain.FamilyUnknown {
		return DetectorRules{}, fmt.Errorf("unknown supported family %q", supported)
	}
	rules.Supported = family
	return rules, nil
}

// ArchitectureDetector classifies a checkpoint in two stages: the structure
// of its object graph first, then the diagnostic of a failed load, then the
// file name.
type ArchitectureDetector struct {
	loader ports.ModuleLoader
	rules  DetectorRules
}

func NewArchitectureDetector(loader ports.ModuleLoader, rules DetectorRules) *ArchitectureDetector {
	return &ArchitectureDetector{loader: loader, rules: rules}
}

func (d *ArchitectureDetector) Detect(path string) domain.Detection {
	var diagnostic string

	graph, err := d.loader.Load(path)
	if err == nil {
		blocks := graph.Blocks()
		present := make(map[string]bool, len(blocks))
		for _, b := range blocks {
			present[b] = true
		}
		for _, rule := range d.rules.Markers {
			if present[rule.Block] {
				return domain.Detection{
					Family:     rule.Family,
					Source:     domain.SourceStructural,
					Confidence: domain.ConfidenceHigh,
					Marker:     rule.Block,
					Blocks:     blocks,
				}
			}
		}
		diagnostic = "no architecture marker among loaded blocks"
	} else {
		// C3k2 must never fall through to the structurally similar C2f rule.
		if name, ok := domain.UnresolvedClassName(err); ok {
			if family, found := d.lookupMarker(name); found {
				return domain.Detection{
					Family:     family,
					Source:     domain.SourceErrorAnalysis,
					Confidence: domain.ConfidenceMedium,
					Marker:     name,
					Diagnostic: err.Error(),
				}
			}
		}
		diagnostic = err.Error()
	}

	name := strings.ToLower(filepath.Base(path))
	for _, rule := range d.rules.Filenames {
		if strings.Contains(name, rule.Pattern) {
			return domain.Detection{
				Family:     rule.Family,
				Source:     domain.SourceFilenameFallback,
				Confidence: domain.ConfidenceLow,
				Marker:     rule.Pattern,
				Diagnostic: diagnostic,
			}
		}
	}

	return domain.Detection{
		Family:     domain.FamilyUnknown,
		Source:     domain.SourceNone,
		Confidence: domain.ConfidenceLow,
		Diagnostic: diagnostic,
	}
}

// ClassifyDiagnostic maps an unresolved-class diagnostic to a family. ok is
// false when msg names no class or the class is not a known marker.
func (d *ArchitectureDetector) ClassifyDiagnostic(msg string) (domain.Family, string, bool) {
	name, ok := domain.ParseUnresolvedClass(msg)
	if !ok {
		return "", "", false
	}
	family, found := d.lookupMarker(name)
	if !found {
		return "", name, false
	}
	return family, name, true
}

func (d *ArchitectureDetector) lookupMarker(name string) (domain.Family, bool) {
	for _, rule := range d.rules.Markers {
		if rule.Block == name {
			return rule.Family, true
		}
	}
	return "", false
}

// Verdict reports whether the remote service accepts the detected family.
// It is advisory; the orchestrator decides what to do with it.
func (d *ArchitectureDetector) Verdict(det domain.Detection) domain.Verdict {
	v := domain.Verdict{
		Family:    det.Family,
		Supported: d.rules.Supported,
	}
	switch {
	case det.Family == d.rules.Supported:
		v.Compatible = true
		v.Message = fmt.Sprintf("%s architecture is supported", det.Family)
	case det.Family == domain.FamilyUnknown:
		v.Message = fmt.Sprintf("architecture could not be determined; only %s models are reliably accepted", d.rules.Supported)
	default:
		v.Message = fmt.Sprintf("%s architecture detected; only %s models are reliably accepted and the upload may be stored locally only", det.Family, d.rules.Supported)
	}
	if det.Ambiguous() && det.Family != domain.FamilyUnknown {
		v.Message += " (guessed from file name)"
	}
	return v
}
