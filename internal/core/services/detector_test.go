package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/testutil"
)

func graphOf(names ...string) *domain.ModuleGraph {
	g := &domain.ModuleGraph{}
	for _, n := range names {
		g.Classes = append(g.Classes, domain.ClassRef{Module: "ultralytics.nn.modules.block", Name: n})
	}
	return g
}

func TestArchitectureDetector_Structural(t *testing.T) {
	tests := []struct {
		name   string
		blocks []string
		family domain.Family
		marker string
	}{
		{"v8 by C2f", []string{"Conv", "C2f", "SPPF", "Detect"}, domain.FamilyV8, "C2f"},
		{"v5 by C3", []string{"Conv", "C3", "SPPF", "Detect"}, domain.FamilyV5, "C3"},
		{"v11 by C3k2", []string{"Conv", "C3k2", "C3k", "SPPF", "C2PSA", "Detect"}, domain.FamilyV11, "C3k2"},
		{"v11 by C2PSA only", []string{"Conv", "C2PSA", "Detect"}, domain.FamilyV11, "C2PSA"},
		{"C3k does not read as C3", []string{"Conv", "C3k", "C2f"}, domain.FamilyV8, "C2f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := new(testutil.MockModuleLoader)
			loader.On("Load", "/models/best.pt").Return(graphOf(tt.blocks...), nil)
			d := NewArchitectureDetector(loader, DefaultDetectorRules())

			det := d.Detect("/models/best.pt")
			assert.Equal(t, tt.family, det.Family)
			assert.Equal(t, domain.SourceStructural, det.Source)
			assert.Equal(t, domain.ConfidenceHigh, det.Confidence)
			assert.Equal(t, tt.marker, det.Marker)
			assert.False(t, det.Ambiguous())
		})
	}
}

func TestArchitectureDetector_ErrorAnalysis(t *testing.T) {
	t.Run("typed unresolved C3k2 maps to V11", func(t *testing.T) {
		loader := new(testutil.MockModuleLoader)
		loader.On("Load", "/m/yolov8n.pt").Return(nil,
			&domain.UnresolvedClassError{Module: "ultralytics.nn.modules.block", Name: "C3k2"})
		d := NewArchitectureDetector(loader, DefaultDetectorRules())

		det := d.Detect("/m/yolov8n.pt")
		assert.Equal(t, domain.FamilyV11, det.Family)
		assert.Equal(t, domain.SourceErrorAnalysis, det.Source)
		assert.Equal(t, "C3k2", det.Marker)
	})

	t.Run("diagnostic text", func(t *testing.T) {
		loader := new(testutil.MockModuleLoader)
		loader.On("Load", "/m/best.pt").Return(nil,
			errors.New("AttributeError: Can't get attribute 'C2PSA' on <module 'ultralytics.nn.modules.block'>"))
		d := NewArchitectureDetector(loader, DefaultDetectorRules())

		det := d.Detect("/m/best.pt")
		assert.Equal(t, domain.FamilyV11, det.Family)
		assert.Equal(t, domain.SourceErrorAnalysis, det.Source)
	})

	t.Run("unknown class falls back to file name", func(t *testing.T) {
		loader := new(testutil.MockModuleLoader)
		loader.On("Load", "/m/yolov5s.pt").Return(nil,
			&domain.UnresolvedClassError{Module: "models.common", Name: "Focus"})
		d := NewArchitectureDetector(loader, DefaultDetectorRules())

		det := d.Detect("/m/yolov5s.pt")
		assert.Equal(t, domain.FamilyV5, det.Family)
		assert.Equal(t, domain.SourceFilenameFallback, det.Source)
	})
}

func TestArchitectureDetector_FilenameFallback(t *testing.T) {
	tests := []struct {
		path   string
		family domain.Family
		source domain.DetectionSource
	}{
		{"/m/YOLO11n-custom.pt", domain.FamilyV11, domain.SourceFilenameFallback},
		{"/m/yolov11s.pt", domain.FamilyV11, domain.SourceFilenameFallback},
		{"/m/yolov8m.pt", domain.FamilyV8, domain.SourceFilenameFallback},
		{"/m/yolov5l.onnx", domain.FamilyV5, domain.SourceFilenameFallback},
		{"/m/weights.pt", domain.FamilyUnknown, domain.SourceNone},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			loader := new(testutil.MockModuleLoader)
			loader.On("Load", tt.path).Return(nil, domain.ErrUnsupportedContainer)
			d := NewArchitectureDetector(loader, DefaultDetectorRules())

			det := d.Detect(tt.path)
			assert.Equal(t, tt.family, det.Family)
			assert.Equal(t, tt.source, det.Source)
			assert.True(t, det.Ambiguous())
			assert.Contains(t, det.Diagnostic, "not a loadable checkpoint")
		})
	}
}

func TestArchitectureDetector_LoadedWithoutMarkers(t *testing.T) {
	loader := new(testutil.MockModuleLoader)
	loader.On("Load", "/m/yolov8n.pt").Return(graphOf("Conv", "Detect"), nil)
	d := NewArchitectureDetector(loader, DefaultDetectorRules())

	det := d.Detect("/m/yolov8n.pt")
	assert.Equal(t, domain.FamilyV8, det.Family)
	assert.Equal(t, domain.SourceFilenameFallback, det.Source)
}

func TestArchitectureDetector_Verdict(t *testing.T) {
	d := NewArchitectureDetector(new(testutil.MockModuleLoader), DefaultDetectorRules())

	assert.True(t, d.Verdict(domain.Detection{Family: domain.FamilyV8, Source: domain.SourceStructural}).Compatible)
	assert.False(t, d.Verdict(domain.Detection{Family: domain.FamilyV5, Source: domain.SourceStructural}).Compatible)
	assert.False(t, d.Verdict(domain.Detection{Family: domain.FamilyV11, Source: domain.SourceStructural}).Compatible)

	unknown := d.Verdict(domain.Detection{Family: domain.FamilyUnknown, Source: domain.SourceNone})
	assert.False(t, unknown.Compatible)
	assert.Equal(t, domain.FamilyV8, unknown.Supported)
}

func TestArchitectureDetector_ClassifyDiagnostic(t *testing.T) {
	d := NewArchitectureDetector(new(testutil.MockModuleLoader), DefaultDetectorRules())

	family, marker, ok := d.ClassifyDiagnostic("module 'ultralytics.nn.modules' has no attribute 'C3k2'")
	assert.True(t, ok)
	assert.Equal(t, domain.FamilyV11, family)
	assert.Equal(t, "C3k2", marker)

	_, _, ok = d.ClassifyDiagnostic("connection reset by peer")
	assert.False(t, ok)
}

func TestParseDetectorRules(t *testing.T) {
	rules, err := ParseDetectorRules(
		[][2]string{{"C3k3", "V12"}},
		nil,
		"V8",
	)
	assert.Error(t, err)

	rules, err = ParseDetectorRules(
		[][2]string{{"C3k2", "v11"}, {"C2f", "8"}},
		[][2]string{{"YOLO11", "V11"}},
		"v8",
	)
	require.NoError(t, err)
	assert.Equal(t, []MarkerRule{{"C3k2", domain.FamilyV11}, {"C2f", domain.FamilyV8}}, rules.Markers)
	assert.Equal(t, "yolo11", rules.Filenames[0].Pattern)
	assert.Equal(t, domain.FamilyV8, rules.Supported)

	_, err = ParseDetectorRules(nil, nil, "unknown")
	assert.Error(t, err)
}
