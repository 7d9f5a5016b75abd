package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"model-uploader/internal/adapters/primary/http/dto"
	"model-uploader/internal/core/ports/output"
)

func (h *Handler) ListManifests(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}

	page, err := h.historySvc.List(c.Request.Context(), filter)
	if err != nil {
		log.WithError(err).Error("list manifests failed")
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToListManifestsResponse(page))
}

func (h *Handler) GetManifest(c *gin.Context) {
	m, err := h.historySvc.Get(c.Request.Context(), c.Param("op_id"))
	if err != nil {
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) GetStats(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}
	// stats cover every matching record, not one page
	filter.Limit = 0

	st, err := h.historySvc.Stats(c.Request.Context(), filter)
	if err != nil {
		log.WithError(err).Error("manifest stats failed")
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// WatchManifests streams new records as server-sent events.
func (h *Handler) WatchManifests(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}
	filter.Limit = 0

	records, err := h.historySvc.Watch(c.Request.Context(), filter)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	c.Stream(func(w io.Writer) bool {
		m, ok := <-records
		if !ok {
			return false
		}
		c.SSEvent("manifest", m)
		return true
	})
}

func bindFilter(c *gin.Context) (ports.ManifestFilter, bool) {
	var q dto.ManifestQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return ports.ManifestFilter{}, false
	}
	filter, err := q.Filter()
	if err != nil {
		mapDomainError(c, err)
		return ports.ManifestFilter{}, false
	}
	return filter, true
}
