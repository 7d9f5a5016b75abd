package roboflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"model-uploader/internal/config"
	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
	"model-uploader/internal/testutil"
)

const testKey = "rf_secret_key_42"

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.RoboflowConfig{APIKey: testKey, APIURL: srv.URL + "/", Timeout: 5 * time.Second}, opts...)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestClient_ListWorkspaces(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []domain.Workspace
	}{
		{"single slug", `{"workspace":"acme"}`, []domain.Workspace{{ID: "acme", Name: "acme"}}},
		{"list", `{"workspaces":[{"id":"acme","name":"Acme Inc"},{"slug":"beta"}]}`,
			[]domain.Workspace{{ID: "acme", Name: "Acme Inc"}, {ID: "beta", Name: "beta"}}},
		{"map", `{"workspaces":{"acme":{"name":"Acme Inc"},"beta":"Beta"}}`,
			[]domain.Workspace{{ID: "acme", Name: "Acme Inc"}, {ID: "beta", Name: "Beta"}}},
		{"empty", `{}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/", r.URL.Path)
				assert.Equal(t, testKey, r.URL.Query().Get("api_key"))
				writeJSON(w, http.StatusOK, tt.body)
			})
			got, err := c.ListWorkspaces(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_ListProjects(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/acme", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"workspace":{"name":"acme","projects":[
			{"id":"acme/cones","name":"Cones","type":"object-detection"},
			{"id":"acme/signs"}
		]}}`)
	})

	got, err := c.ListProjects(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, []domain.Project{
		{ID: "cones", Name: "Cones", Type: "object-detection", Workspace: "acme"},
		{ID: "signs", Name: "signs", Workspace: "acme"},
	}, got)

	t.Run("top level map", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"workspace":{"projects":[]},"projects":{"cones":{"name":"Cones"}}}`)
		})
		got, err := c.ListProjects(context.Background(), "acme")
		require.NoError(t, err)
		assert.Equal(t, []domain.Project{{ID: "cones", Name: "Cones", Workspace: "acme"}}, got)
	})
}

func TestClient_ListVersions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/acme/cones", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"versions":[
			{"id":"acme/cones/1","name":"first","model":{"map":0.61}},
			{"id":"acme/cones/2","name":"second","model":null},
			{"id":"acme/cones/3","trained":false},
			{"id":"acme/cones/4","trained":true}
		]}`)
	})

	got, err := c.ListVersions(context.Background(), "acme", "cones")
	require.NoError(t, err)
	assert.Equal(t, []domain.Version{
		{ID: "1", Project: "cones", Name: "first", Trained: true},
		{ID: "2", Project: "cones", Name: "second"},
		{ID: "3", Project: "cones"},
		{ID: "4", Project: "cones", Trained: true},
	}, got)

	t.Run("map payload", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"versions":{"5":{"name":"five"},"6":"six"}}`)
		})
		got, err := c.ListVersions(context.Background(), "acme", "cones")
		require.NoError(t, err)
		assert.Equal(t, []domain.Version{
			{ID: "5", Project: "cones", Name: "five"},
			{ID: "6", Project: "cones", Name: "six"},
		}, got)
	})
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
		text   string
	}{
		{http.StatusUnauthorized, `{"error":"bad key"}`, domain.ErrRemoteAuth, "rf***42"},
		{http.StatusForbidden, `{"error":{"message":"no access"}}`, domain.ErrRemoteAuth, "no access"},
		{http.StatusNotFound, `{"message":"workspace missing"}`, domain.ErrRemoteNotFound, "workspace missing"},
		{http.StatusGatewayTimeout, ``, domain.ErrRemoteTimeout, "504"},
		{http.StatusBadGateway, `oops`, domain.ErrRemoteUnavailable, "oops"},
		{http.StatusUnprocessableEntity, `{"error":"bad input"}`, domain.ErrRemoteRejected, "bad input"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := c.ListWorkspaces(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.text)
			assert.NotContains(t, err.Error(), testKey)

			var rerr *RemoteError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.status, rerr.StatusCode)
		})
	}
}

func TestClient_TransportErrors(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		c := NewClient(&config.RoboflowConfig{APIURL: "http://127.0.0.1:1"})
		_, err := c.ListWorkspaces(context.Background())
		assert.ErrorIs(t, err, domain.ErrRemoteAuth)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			<-release
		}, WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
		defer close(release)

		_, err := c.ListWorkspaces(context.Background())
		assert.ErrorIs(t, err, domain.ErrRemoteTimeout)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := NewClient(&config.RoboflowConfig{APIKey: testKey, APIURL: srv.URL})
		_, err := c.ListWorkspaces(context.Background())
		assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	})

	t.Run("invalid json", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `<html>`)
		})
		_, err := c.ListWorkspaces(context.Background())
		assert.ErrorIs(t, err, domain.ErrRemoteRejected)
	})
}

func modelFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func fileChecksum(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func deployRequest(t *testing.T, path string) ports.DeployArtifactRequest {
	t.Helper()
	return ports.DeployArtifactRequest{
		Workspace: "acme",
		Project:   "cones",
		Version:   "3",
		LocalPath: path,
		Checksum:  fileChecksum(t, path),
		ModelType: "yolov8",
	}
}

func TestClient_DeployArtifact(t *testing.T) {
	var mu sync.Mutex
	var uploaded []byte
	var srvURL string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/acme/cones/3/uploadModel":
			assert.Equal(t, "yolov8", r.URL.Query().Get("modelType"))
			assert.Equal(t, "true", r.URL.Query().Get("nocache"))
			writeJSON(w, http.StatusOK, `{"url":"`+srvURL+`/signed/best.pt"}`)
		case r.Method == http.MethodPut && r.URL.Path == "/signed/best.pt":
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			uploaded = body
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	})
	srvURL = c.baseURL

	resp, err := c.DeployArtifact(context.Background(), deployRequest(t, modelFile(t, "best.pt", "weights")))
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Equal(t, "deployed", resp.Response["status"])

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "weights", string(uploaded))
}

func TestClient_UploadProgress(t *testing.T) {
	var mu sync.Mutex
	var srvURL string
	finished := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, `{"url":"`+srvURL+`/signed/best.pt"}`)
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}, WithProgress(func(name string, body io.Reader, size int64) (io.Reader, func()) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "best.pt", name)
		assert.Equal(t, int64(len("weights")), size)
		return body, func() {
			mu.Lock()
			defer mu.Unlock()
			finished = true
		}
	}))
	srvURL = c.baseURL

	_, err := c.DeployArtifact(context.Background(), deployRequest(t, modelFile(t, "best.pt", "weights")))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished)
}

func TestClient_DeployArtifactModifiedAfterChecksum(t *testing.T) {
	var mu sync.Mutex
	var srvURL string
	completed := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, `{"url":"`+srvURL+`/signed/best.pt"}`)
			return
		}
		if _, err := io.ReadAll(r.Body); err == nil {
			mu.Lock()
			completed = true
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	})
	srvURL = c.baseURL

	p := modelFile(t, "best.pt", "weights")
	req := deployRequest(t, p)
	require.NoError(t, os.WriteFile(p, []byte("swapped"), 0o644))

	_, err := c.DeployArtifact(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrChecksumMismatch)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, completed)
}

func TestClient_DeployArtifactFailures(t *testing.T) {
	t.Run("no upload url", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"error":"Can't get attribute 'C3k2' on <module 'ultralytics.nn.modules.block'>"}`)
		})
		resp, err := c.DeployArtifact(context.Background(), deployRequest(t, modelFile(t, "best.pt", "w")))
		require.NoError(t, err)
		assert.False(t, resp.Accepted)
		assert.Contains(t, resp.ErrorDetail, "C3k2")
	})

	t.Run("upload rejected", func(t *testing.T) {
		var srvURL string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				writeJSON(w, http.StatusOK, `{"url":"`+srvURL+`/signed"}`)
				return
			}
			w.WriteHeader(http.StatusForbidden)
		})
		srvURL = c.baseURL
		_, err := c.DeployArtifact(context.Background(), deployRequest(t, modelFile(t, "best.pt", "w")))
		assert.ErrorIs(t, err, domain.ErrRemoteAuth)
	})

	t.Run("packaging fails on unresolved class", func(t *testing.T) {
		loader := new(testutil.MockModuleLoader)
		p := modelFile(t, "yolo11n.pt", "w")
		loader.On("Load", p).Return(nil, &domain.UnresolvedClassError{Module: "ultralytics.nn.modules.block", Name: "C3k2"})

		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("no request expected, got %s %s", r.Method, r.URL.Path)
		}, WithPackager(loader))

		_, err := c.DeployArtifact(context.Background(), deployRequest(t, p))
		name, ok := domain.UnresolvedClassName(err)
		require.True(t, ok)
		assert.Equal(t, "C3k2", name)
		loader.AssertExpectations(t)
	})

	t.Run("packaging skipped for onnx", func(t *testing.T) {
		loader := new(testutil.MockModuleLoader)
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{}`)
		}, WithPackager(loader))
		resp, err := c.DeployArtifact(context.Background(), deployRequest(t, modelFile(t, "model.onnx", "w")))
		require.NoError(t, err)
		assert.False(t, resp.Accepted)
		loader.AssertNotCalled(t, "Load", mock.Anything)
	})
}

func TestClient_UploadDataset(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/acme/cones/upload":
			assert.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "spring batch", r.FormValue("description"))
			f, hdr, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer f.Close()
			data, _ := io.ReadAll(f)
			assert.Equal(t, "data.zip", hdr.Filename)
			assert.Equal(t, "PK-fake", string(data))
			writeJSON(w, http.StatusOK, `{"id":"acme/cones/7","images":12}`)
		case "/acme/cones/7/train":
			writeJSON(w, http.StatusOK, `{"status":"queued"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	resp, err := c.UploadDataset(context.Background(), ports.UploadDatasetRequest{
		Workspace:       "acme",
		Project:         "cones",
		ArchivePath:     modelFile(t, "data.zip", "PK-fake"),
		Description:     "spring batch",
		TriggerTraining: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "7", resp.VersionID)
	assert.EqualValues(t, 12, resp.Response["images"])
	assert.Equal(t, "queued", resp.TrainingResponse["status"])
	mu.Lock()
	assert.Equal(t, []string{"POST /acme/cones/upload", "POST /acme/cones/7/train"}, calls)
	mu.Unlock()

	t.Run("training failure keeps the upload", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/acme/cones/upload":
				_, _ = io.Copy(io.Discard, r.Body)
				writeJSON(w, http.StatusOK, `{"version":"acme/cones/8"}`)
			case "/acme/cones/8/train":
				writeJSON(w, http.StatusInternalServerError, `{"error":"training quota exhausted"}`)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		})
		resp, err := c.UploadDataset(context.Background(), ports.UploadDatasetRequest{
			Workspace:       "acme",
			Project:         "cones",
			ArchivePath:     modelFile(t, "data.zip", "PK-fake"),
			TriggerTraining: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "8", resp.VersionID)
		assert.Equal(t, "acme/cones/8", resp.Response["version"])
		assert.Equal(t, "error", resp.TrainingResponse["status"])
		assert.Contains(t, resp.TrainingResponse["message"], "training quota exhausted")
	})

	t.Run("missing archive", func(t *testing.T) {
		_, err := c.UploadDataset(context.Background(), ports.UploadDatasetRequest{
			Workspace: "acme", Project: "cones", ArchivePath: filepath.Join(t.TempDir(), "nope.zip"),
		})
		assert.ErrorIs(t, err, domain.ErrArtifactUnreadable)
	})
}

func TestRemoteError_JSONBodyKept(t *testing.T) {
	c := &Client{apiKey: testKey}
	body, _ := json.Marshal(map[string]string{"error": "quota exceeded"})
	e := c.statusError(http.StatusTooManyRequests, body)
	assert.ErrorIs(t, e, domain.ErrRemoteRejected)
	assert.Equal(t, "roboflow api error 429: quota exceeded", e.Error())
	assert.JSONEq(t, string(body), e.Body)
}
