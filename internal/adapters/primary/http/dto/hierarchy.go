package dto

import "model-uploader/internal/core/domain"

type ListWorkspacesResponse struct {
	Items []domain.Workspace `json:"items"`
	Total int                `json:"total"`
}

type ListProjectsResponse struct {
	Items []domain.Project `json:"items"`
	Total int              `json:"total"`
}

type ListVersionsResponse struct {
	Items []domain.Version `json:"items"`
	Total int              `json:"total"`
}
