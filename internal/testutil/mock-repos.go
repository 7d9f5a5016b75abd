package testutil

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

// MockHierarchyClient is a mock of HierarchyClient.
type MockHierarchyClient struct {
	mock.Mock
}

func (m *MockHierarchyClient) ListWorkspaces(ctx context.Context) ([]domain.Workspace, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Workspace), args.Error(1)
}

func (m *MockHierarchyClient) ListProjects(ctx context.Context, workspace string) ([]domain.Project, error) {
	args := m.Called(ctx, workspace)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Project), args.Error(1)
}

func (m *MockHierarchyClient) ListVersions(ctx context.Context, workspace, project string) ([]domain.Version, error) {
	args := m.Called(ctx, workspace, project)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Version), args.Error(1)
}

// MockModelDeployer is a mock of ModelDeployer.
type MockModelDeployer struct {
	mock.Mock
}

func (m *MockModelDeployer) DeployArtifact(ctx context.Context, req ports.DeployArtifactRequest) (*ports.DeployArtifactResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.DeployArtifactResponse), args.Error(1)
}

// MockDatasetUploader is a mock of DatasetUploader.
type MockDatasetUploader struct {
	mock.Mock
}

func (m *MockDatasetUploader) UploadDataset(ctx context.Context, req ports.UploadDatasetRequest) (*ports.UploadDatasetResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.UploadDatasetResponse), args.Error(1)
}

// MockArtifactStore is a mock of ArtifactStore.
type MockArtifactStore struct {
	mock.Mock
}

func (m *MockArtifactStore) Put(ctx context.Context, localPath, checksum string) (string, error) {
	args := m.Called(ctx, localPath, checksum)
	return args.String(0), args.Error(1)
}

// MockModuleLoader is a mock of ModuleLoader.
type MockModuleLoader struct {
	mock.Mock
}

func (m *MockModuleLoader) Load(path string) (*domain.ModuleGraph, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ModuleGraph), args.Error(1)
}

// MemoryManifestRepo is an in-memory ManifestRepository. Corrupt entries can
// be injected with AddCorrupt to exercise skip-and-report paths.
type MemoryManifestRepo struct {
	mu       sync.Mutex
	records  map[string]*domain.Manifest
	corrupt  []string
	subs     []chan *domain.Manifest
	WriteErr error
}

func NewMemoryManifestRepo() *MemoryManifestRepo {
	return &MemoryManifestRepo{records: make(map[string]*domain.Manifest)}
}

func (r *MemoryManifestRepo) Write(_ context.Context, m *domain.Manifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.WriteErr != nil {
		return r.WriteErr
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if _, ok := r.records[m.OpID]; ok {
		return domain.ErrManifestExists
	}
	cp := *m
	r.records[m.OpID] = &cp
	for _, ch := range r.subs {
		sent := cp
		select {
		case ch <- &sent:
		default:
		}
	}
	return nil
}

// Watch delivers records written after the call until ctx is done. Slow
// readers drop records once the buffer is full.
func (r *MemoryManifestRepo) Watch(ctx context.Context) (<-chan *domain.Manifest, error) {
	ch := make(chan *domain.Manifest, 16)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, sub := range r.subs {
			if sub == ch {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (r *MemoryManifestRepo) Get(_ context.Context, opID string) (*domain.Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.records[opID]
	if !ok {
		return nil, domain.ErrManifestNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryManifestRepo) AddCorrupt(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrupt = append(r.corrupt, source)
}

func (r *MemoryManifestRepo) List(ctx context.Context, filter ports.ManifestFilter) iter.Seq2[*domain.Manifest, error] {
	return func(yield func(*domain.Manifest, error) bool) {
		r.mu.Lock()
		all := make([]*domain.Manifest, 0, len(r.records))
		for _, m := range r.records {
			cp := *m
			all = append(all, &cp)
		}
		corrupt := append([]string(nil), r.corrupt...)
		r.mu.Unlock()

		sort.Slice(all, func(i, j int) bool { return all[i].OpID > all[j].OpID })

		for _, src := range corrupt {
			if !yield(nil, &domain.CorruptManifestError{Source: src, Err: domain.ErrInvalidManifest}) {
				return
			}
		}
		n := 0
		for _, m := range all {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			if !filter.Match(m) {
				continue
			}
			if !yield(m, nil) {
				return
			}
			n++
			if filter.Limit > 0 && n >= filter.Limit {
				return
			}
		}
	}
}

// All returns every stored manifest, newest first.
func (r *MemoryManifestRepo) All() []*domain.Manifest {
	var out []*domain.Manifest
	for m, err := range r.List(context.Background(), ports.ManifestFilter{}) {
		if err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Event is one entry captured by RecordingEventLog.
type Event struct {
	Level  string
	Name   string
	Fields map[string]any
}

// RecordingEventLog keeps every event in memory.
type RecordingEventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *RecordingEventLog) Info(event string, fields map[string]any) {
	l.record("info", event, fields)
}

func (l *RecordingEventLog) Warn(event string, fields map[string]any) {
	l.record("warning", event, fields)
}

func (l *RecordingEventLog) Error(event string, fields map[string]any) {
	l.record("error", event, fields)
}

func (l *RecordingEventLog) record(level, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Level: level, Name: event, Fields: fields})
}

func (l *RecordingEventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Names returns the event names in emission order.
func (l *RecordingEventLog) Names() []string {
	var names []string
	for _, e := range l.Events() {
		names = append(names, e.Name)
	}
	return names
}

var (
	_ ports.HierarchyClient    = (*MockHierarchyClient)(nil)
	_ ports.ModelDeployer      = (*MockModelDeployer)(nil)
	_ ports.DatasetUploader    = (*MockDatasetUploader)(nil)
	_ ports.ArtifactStore      = (*MockArtifactStore)(nil)
	_ ports.ModuleLoader       = (*MockModuleLoader)(nil)
	_ ports.ManifestRepository = (*MemoryManifestRepo)(nil)
	_ ports.ManifestWatcher    = (*MemoryManifestRepo)(nil)
	_ ports.EventLog           = (*RecordingEventLog)(nil)
)
