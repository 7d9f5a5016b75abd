package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"model-uploader/internal/adapters/primary/http/dto"
	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/services"
)

// Every attempt that ran answers 200 with its recorded status in the body,
// failed attempts included. Only requests that never started an attempt are
// mapped to error codes.

func (h *Handler) CreatePlan(c *gin.Context) {
	var req dto.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	planReq, err := toPlanRequest(req)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	out, err := h.deploySvc.Plan(c.Request.Context(), planReq)
	if err != nil {
		log.WithError(err).Error("plan deployment failed")
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToOutcomeResponse(out))
}

func (h *Handler) CommitPlan(c *gin.Context) {
	var req dto.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.deploySvc.CommitByID(c.Request.Context(), c.Param("op_id"), *req.Confirmed)
	if err != nil {
		log.WithFields(log.Fields{
			"op_id": c.Param("op_id"),
			"error": err,
		}).Error("commit plan failed")
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToOutcomeResponse(out))
}

func (h *Handler) Deploy(c *gin.Context) {
	var req dto.DeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	planReq, err := toPlanRequest(req.PlanRequest)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	out, err := h.deploySvc.Deploy(c.Request.Context(), planReq, req.ConfirmIncompatible)
	if err != nil {
		log.WithError(err).Error("deploy model failed")
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToOutcomeResponse(out))
}

func (h *Handler) UploadDataset(c *gin.Context) {
	var req dto.DatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.deploySvc.UploadDataset(c.Request.Context(), services.DatasetRequest{
		Workspace:       req.Workspace,
		Project:         req.Project,
		ArchivePath:     req.ArchivePath,
		Description:     req.Description,
		TriggerTraining: req.TriggerTraining,
		Notes:           req.Notes,
	})
	if err != nil {
		log.WithError(err).Error("upload dataset failed")
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToOutcomeResponse(out))
}

func toPlanRequest(req dto.PlanRequest) (services.PlanRequest, error) {
	strategy, err := domain.ParseStrategy(req.Strategy)
	if err != nil {
		return services.PlanRequest{}, err
	}
	return services.PlanRequest{
		Workspace:    req.Workspace,
		Project:      req.Project,
		ArtifactPath: req.ArtifactPath,
		Strategy:     strategy,
		Notes:        req.Notes,
	}, nil
}
