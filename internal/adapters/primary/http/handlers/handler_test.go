package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
	"model-uploader/internal/core/services"
	"model-uploader/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const apiPrefix = "/api/v1/uploader"

type fixture struct {
	router    *gin.Engine
	loader    *testutil.MockModuleLoader
	hierarchy *testutil.MockHierarchyClient
	deployer  *testutil.MockModelDeployer
	datasets  *testutil.MockDatasetUploader
	store     *testutil.MockArtifactStore
	manifests *testutil.MemoryManifestRepo
	dir       string
}

func setupRouter(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		loader:    new(testutil.MockModuleLoader),
		hierarchy: new(testutil.MockHierarchyClient),
		deployer:  new(testutil.MockModelDeployer),
		datasets:  new(testutil.MockDatasetUploader),
		store:     new(testutil.MockArtifactStore),
		manifests: testutil.NewMemoryManifestRepo(),
		dir:       t.TempDir(),
	}
	events := &testutil.RecordingEventLog{}

	deploySvc := services.NewDeployService(services.DeployDeps{
		Hierarchy:     f.hierarchy,
		Deployer:      f.deployer,
		Datasets:      f.datasets,
		Store:         f.store,
		Manifests:     f.manifests,
		Events:        events,
		Fingerprinter: services.NewFingerprinter(),
		Detector:      services.NewArchitectureDetector(f.loader, services.DefaultDetectorRules()),
		Resolver:      services.NewVersionResolver(),
	}, services.DeployConfig{AppVersion: "1.0.0-test"})
	historySvc := services.NewHistoryService(f.manifests)
	hierarchySvc := services.NewHierarchyService(f.hierarchy, events, 16, time.Minute)

	h := New(deploySvc, historySvc, hierarchySvc)
	f.router = gin.New()
	api := f.router.Group(apiPrefix)
	h.RegisterRoutes(api)
	return f
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, apiPrefix+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// artifact writes a model file whose checkpoint refers to blocks.
func (f *fixture) artifact(t *testing.T, name string, blocks ...string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("weights:"+name), 0o644))

	g := &domain.ModuleGraph{}
	for _, b := range blocks {
		g.Classes = append(g.Classes, domain.ClassRef{Module: "ultralytics.nn.modules.block", Name: b})
	}
	f.loader.On("Load", path).Return(g, nil)
	return path
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func record(opID string, status domain.Status, started time.Time) *domain.Manifest {
	return &domain.Manifest{
		OpID:       opID,
		AppVersion: "1.0.0",
		Mode:       domain.ModeExternalModel,
		Workspace:  "acme",
		Project:    "cones",
		Status:     status,
		StartedAt:  started,
		EndedAt:    started.Add(time.Second),
		Artifact: &domain.ArtifactRecord{
			Filename:  "best.pt",
			SHA256:    strings.Repeat("ab", 32),
			SizeBytes: 100,
		},
	}
}

func TestListWorkspaces(t *testing.T) {
	f := setupRouter(t)
	f.hierarchy.On("ListWorkspaces", mock.Anything).
		Return([]domain.Workspace{{ID: "acme", Name: "Acme"}, {ID: "lab", Name: "Lab"}}, nil).Once()

	w := f.do("GET", "/workspaces", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["total"])

	// second call is served from cache
	w = f.do("GET", "/workspaces", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	f.hierarchy.AssertNumberOfCalls(t, "ListWorkspaces", 1)
}

func TestListVersions_RemoteErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"auth", fmt.Errorf("roboflow api error 401: %w", domain.ErrRemoteAuth), http.StatusBadGateway},
		{"not found", domain.ErrRemoteNotFound, http.StatusNotFound},
		{"timeout", domain.ErrRemoteTimeout, http.StatusGatewayTimeout},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupRouter(t)
			f.hierarchy.On("ListVersions", mock.Anything, "acme", "cones").Return(nil, tt.err)

			w := f.do("GET", "/workspaces/acme/projects/cones/versions", nil)
			assert.Equal(t, tt.code, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}
}

func TestCreatePlan_Validation(t *testing.T) {
	f := setupRouter(t)

	w := f.do("POST", "/plans", map[string]any{"workspace": "acme"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("POST", "/plans", map[string]any{
		"workspace":     "acme",
		"project":       "cones",
		"artifact_path": "/tmp/best.pt",
		"strategy":      "latest",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "strategy")
}

func TestPlanThenCommit(t *testing.T) {
	f := setupRouter(t)
	path := f.artifact(t, "best.pt", "Conv", "C2f", "Detect")
	f.hierarchy.On("ListVersions", mock.Anything, "acme", "cones").Return([]domain.Version{
		{ID: "acme/cones/1", Trained: true},
		{ID: "acme/cones/2", Trained: false},
	}, nil)
	f.store.On("Put", mock.Anything, path, mock.Anything).Return("file:///cas/x", nil)
	f.deployer.On("DeployArtifact", mock.Anything, mock.Anything).
		Return(&ports.DeployArtifactResponse{Accepted: true}, nil)

	w := f.do("POST", "/plans", map[string]any{
		"workspace":     "acme",
		"project":       "cones",
		"artifact_path": path,
	})
	require.Equal(t, http.StatusOK, w.Code)
	planned := decode(t, w)
	assert.Equal(t, "planned", planned["status"])
	plan := planned["plan"].(map[string]any)
	assert.Equal(t, "acme/cones/2", plan["target_version"].(map[string]any)["id"])
	assert.Empty(t, f.manifests.All())

	opID := planned["op_id"].(string)

	w = f.do("POST", "/plans/"+opID+"/commit", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "confirmed is required")

	w = f.do("POST", "/plans/"+opID+"/commit", map[string]any{"confirmed": true})
	require.Equal(t, http.StatusOK, w.Code)
	done := decode(t, w)
	assert.Equal(t, "success", done["status"])
	assert.Nil(t, done["plan"])
	assert.Equal(t, opID, done["manifest"].(map[string]any)["op_id"])

	w = f.do("POST", "/plans/"+opID+"/commit", map[string]any{"confirmed": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, f.manifests.All(), 1)
}

func TestDeploy_NeedsConfirmation(t *testing.T) {
	f := setupRouter(t)
	path := f.artifact(t, "best.pt", "Conv", "C3k2", "C2PSA", "Detect")
	f.hierarchy.On("ListVersions", mock.Anything, "acme", "cones").Return([]domain.Version{
		{ID: "acme/cones/1", Trained: false},
	}, nil)

	w := f.do("POST", "/deployments", map[string]any{
		"workspace":     "acme",
		"project":       "cones",
		"artifact_path": path,
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "pending_confirmation", resp["status"])
	assert.Equal(t, "IncompatibleArchitecture", resp["error_kind"])
	plan := resp["plan"].(map[string]any)
	assert.Equal(t, true, plan["needs_confirmation"])
	assert.Nil(t, resp["manifest"])
	f.deployer.AssertNotCalled(t, "DeployArtifact", mock.Anything, mock.Anything)
}

func TestDeploy_UnsupportedExtension(t *testing.T) {
	f := setupRouter(t)
	path := filepath.Join(f.dir, "weights.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	w := f.do("POST", "/deployments", map[string]any{
		"workspace":     "acme",
		"project":       "cones",
		"artifact_path": path,
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "failed", resp["status"])
	assert.Equal(t, "failed", resp["manifest"].(map[string]any)["status"])
}

func TestUploadDataset_Validation(t *testing.T) {
	f := setupRouter(t)

	w := f.do("POST", "/datasets", map[string]any{"workspace": "acme", "project": "cones"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListManifests(t *testing.T) {
	f := setupRouter(t)
	day := time.Date(2024, 11, 3, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, f.manifests.Write(ctx, record("20241103T090000.000001Z-ext-aaaaaaaa", domain.StatusSuccess, day)))
	require.NoError(t, f.manifests.Write(ctx, record("20241104T090000.000001Z-ext-bbbbbbbb", domain.StatusFailed, day.Add(24*time.Hour))))
	f.manifests.AddCorrupt("broken.json")

	w := f.do("GET", "/manifests", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(2), resp["total"])
	items := resp["items"].([]any)
	assert.Equal(t, "20241104T090000.000001Z-ext-bbbbbbbb", items[0].(map[string]any)["op_id"])
	assert.Len(t, resp["skipped"], 1)

	w = f.do("GET", "/manifests?status=success", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = f.do("GET", "/manifests?since=2024-11-04", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = f.do("GET", "/manifests?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("GET", "/manifests?status=exploded", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetManifest(t *testing.T) {
	f := setupRouter(t)
	opID := "20241103T090000.000001Z-ext-aaaaaaaa"
	require.NoError(t, f.manifests.Write(context.Background(), record(opID, domain.StatusSuccess, time.Now().UTC())))

	w := f.do("GET", "/manifests/"+opID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, opID, decode(t, w)["op_id"])

	w = f.do("GET", "/manifests/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStats(t *testing.T) {
	f := setupRouter(t)
	day := time.Date(2024, 11, 3, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, f.manifests.Write(ctx, record("20241103T090000.000001Z-ext-aaaaaaaa", domain.StatusSuccess, day)))
	require.NoError(t, f.manifests.Write(ctx, record("20241103T100000.000001Z-ext-bbbbbbbb", domain.StatusFailed, day.Add(time.Hour))))

	w := f.do("GET", "/stats?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(2), resp["total"], "limit does not apply to stats")
	assert.Equal(t, 0.5, resp["success_rate"])
	assert.Equal(t, float64(200), resp["total_bytes"])
}

type listOnlyRepo struct {
	ports.ManifestRepository
}

func TestWatchManifests_Unsupported(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(nil, services.NewHistoryService(listOnlyRepo{testutil.NewMemoryManifestRepo()}), nil)
	r := gin.New()
	h.RegisterRoutes(r.Group(apiPrefix))

	req, _ := http.NewRequest("GET", apiPrefix+"/manifests/watch", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestWatchManifests_Stream(t *testing.T) {
	f := setupRouter(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+apiPrefix+"/manifests/watch?status=success", nil)
	require.NoError(t, err)

	got := make(chan string, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "data:") {
				got <- line
				return
			}
		}
	}()

	// keep writing until the subscriber has attached and seen one
	start := time.Date(2024, 11, 3, 9, 0, 0, 0, time.UTC)
	i := 0
	var line string
	assert.Eventually(t, func() bool {
		i++
		failed := record(fmt.Sprintf("20241103T090000.%06dZ-ext-ffffffff", i), domain.StatusFailed, start)
		ok := record(fmt.Sprintf("20241103T090000.%06dZ-ext-aaaaaaaa", i), domain.StatusSuccess, start)
		_ = f.manifests.Write(context.Background(), failed)
		_ = f.manifests.Write(context.Background(), ok)
		select {
		case line = <-got:
			return true
		default:
			return false
		}
	}, 3*time.Second, 25*time.Millisecond)

	assert.Contains(t, line, "-ext-aaaaaaaa")
	assert.Contains(t, line, `"status":"success"`)
}
