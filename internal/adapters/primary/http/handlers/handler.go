package handlers

import (
	"model-uploader/internal/core/services"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	deploySvc    *services.DeployService
	historySvc   *services.HistoryService
	hierarchySvc *services.HierarchyService
}

func New(
	deploySvc *services.DeployService,
	historySvc *services.HistoryService,
	hierarchySvc *services.HierarchyService,
) *Handler {
	return &Handler{
		deploySvc:    deploySvc,
		historySvc:   historySvc,
		hierarchySvc: hierarchySvc,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	// Remote hierarchy
	r.GET("/workspaces", h.ListWorkspaces)
	r.GET("/workspaces/:workspace/projects", h.ListProjects)
	r.GET("/workspaces/:workspace/projects/:project/versions", h.ListVersions)
	r.POST("/cache/invalidate", h.InvalidateCache)

	// Two-step deployment
	r.POST("/plans", h.CreatePlan)
	r.POST("/plans/:op_id/commit", h.CommitPlan)

	// One-shot operations
	r.POST("/deployments", h.Deploy)
	r.POST("/datasets", h.UploadDataset)

	// History
	r.GET("/manifests", h.ListManifests)
	r.GET("/manifests/watch", h.WatchManifests)
	r.GET("/manifests/:op_id", h.GetManifest)
	r.GET("/stats", h.GetStats)
}
