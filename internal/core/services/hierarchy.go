package services

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

// HierarchyService browses the remote workspace tree through a short-lived
// cache. Deployments resolve versions against the live listing instead.
type HierarchyService struct {
	client     ports.HierarchyClient
	events     ports.EventLog
	workspaces *expirable.LRU[string, []domain.Workspace]
	projects   *expirable.LRU[string, []domain.Project]
	versions   *expirable.LRU[string, []domain.Version]
}

func NewHierarchyService(client ports.HierarchyClient, events ports.EventLog, size int, ttl time.Duration) *HierarchyService {
	if size <= 0 {
		size = 128
	}
	return &HierarchyService{
		client:     client,
		events:     events,
		workspaces: expirable.NewLRU[string, []domain.Workspace](1, nil, ttl),
		projects:   expirable.NewLRU[string, []domain.Project](size, nil, ttl),
		versions:   expirable.NewLRU[string, []domain.Version](size, nil, ttl),
	}
}

func (s *HierarchyService) ListWorkspaces(ctx context.Context) ([]domain.Workspace, error) {
	if cached, ok := s.workspaces.Get(""); ok {
		return cached, nil
	}
	workspaces, err := s.client.ListWorkspaces(ctx)
	if err != nil {
		s.events.Error("list_workspaces", map[string]any{"error": err.Error()})
		return nil, err
	}
	s.events.Info("list_workspaces", map[string]any{"count": len(workspaces)})
	s.workspaces.Add("", workspaces)
	return workspaces, nil
}

func (s *HierarchyService) ListProjects(ctx context.Context, workspace string) ([]domain.Project, error) {
	if workspace == "" {
		return nil, domain.ErrInvalidRequest
	}
	if cached, ok := s.projects.Get(workspace); ok {
		return cached, nil
	}
	projects, err := s.client.ListProjects(ctx, workspace)
	if err != nil {
		s.events.Error("list_projects", map[string]any{"workspace": workspace, "error": err.Error()})
		return nil, err
	}
	s.events.Info("list_projects", map[string]any{"workspace": workspace, "count": len(projects)})
	s.projects.Add(workspace, projects)
	return projects, nil
}

// ListVersions returns the versions of a project newest first.
func (s *HierarchyService) ListVersions(ctx context.Context, workspace, project string) ([]domain.Version, error) {
	if workspace == "" || project == "" {
		return nil, domain.ErrInvalidRequest
	}
	key := workspace + "/" + project
	if cached, ok := s.versions.Get(key); ok {
		return cached, nil
	}
	versions, err := s.client.ListVersions(ctx, workspace, project)
	if err != nil {
		s.events.Error("list_versions", map[string]any{"workspace": workspace, "project": project, "error": err.Error()})
		return nil, err
	}
	versions = SortNewestFirst(versions)
	s.events.Info("list_versions", map[string]any{"workspace": workspace, "project": project, "count": len(versions)})
	s.versions.Add(key, versions)
	return versions, nil
}

// Invalidate drops cached listings, e.g. after a deployment changed a version.
func (s *HierarchyService) Invalidate() {
	s.workspaces.Purge()
	s.projects.Purge()
	s.versions.Purge()
}
