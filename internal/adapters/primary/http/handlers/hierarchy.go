package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"model-uploader/internal/adapters/primary/http/dto"
)

func (h *Handler) ListWorkspaces(c *gin.Context) {
	items, err := h.hierarchySvc.ListWorkspaces(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("list workspaces failed")
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListWorkspacesResponse{Items: items, Total: len(items)})
}

func (h *Handler) ListProjects(c *gin.Context) {
	items, err := h.hierarchySvc.ListProjects(c.Request.Context(), c.Param("workspace"))
	if err != nil {
		log.WithError(err).Error("list projects failed")
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListProjectsResponse{Items: items, Total: len(items)})
}

func (h *Handler) ListVersions(c *gin.Context) {
	items, err := h.hierarchySvc.ListVersions(c.Request.Context(), c.Param("workspace"), c.Param("project"))
	if err != nil {
		log.WithError(err).Error("list versions failed")
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListVersionsResponse{Items: items, Total: len(items)})
}

func (h *Handler) InvalidateCache(c *gin.Context) {
	h.hierarchySvc.Invalidate()
	c.Status(http.StatusNoContent)
}
