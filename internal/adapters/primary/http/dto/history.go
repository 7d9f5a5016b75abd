package dto

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
	"model-uploader/internal/core/services"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// ManifestQuery is the query string of the history endpoints. Dates accept
// either 2006-01-02 or RFC 3339.
type ManifestQuery struct {
	Since     string `form:"since"`
	Until     string `form:"until"`
	Status    string `form:"status" binding:"omitempty,oneof=success partial_success failed cancelled"`
	Mode      string `form:"mode" binding:"omitempty,oneof=dataset external_model"`
	Workspace string `form:"workspace"`
	Project   string `form:"project"`
	Limit     int    `form:"limit" binding:"omitempty,gte=1"`
}

func (q ManifestQuery) Filter() (ports.ManifestFilter, error) {
	f := ports.ManifestFilter{
		Status:    domain.Status(q.Status),
		Mode:      domain.Mode(q.Mode),
		Workspace: q.Workspace,
		Project:   q.Project,
		Limit:     q.Limit,
	}
	if f.Limit == 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Status != "" && !slices.Contains(domain.TerminalStatuses, f.Status) {
		return f, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, q.Status)
	}
	if f.Mode != "" && !f.Mode.IsValid() {
		return f, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidRequest, q.Mode)
	}

	var err error
	if f.Since, err = ParseDate(q.Since); err != nil {
		return f, fmt.Errorf("since: %w", err)
	}
	if f.Until, err = ParseDate(q.Until); err != nil {
		return f, fmt.Errorf("until: %w", err)
	}
	return f, nil
}

// ParseDate reads a calendar date as UTC midnight, or a full timestamp.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is neither YYYY-MM-DD nor RFC 3339", domain.ErrInvalidRequest, s)
	}
	return t, nil
}

type ListManifestsResponse struct {
	Items   []*domain.Manifest       `json:"items"`
	Skipped []services.SkippedRecord `json:"skipped"`
	Total   int                      `json:"total"`
}

func ToListManifestsResponse(page *services.HistoryPage) ListManifestsResponse {
	resp := ListManifestsResponse{
		Items:   page.Records,
		Skipped: page.Skipped,
		Total:   len(page.Records),
	}
	if resp.Items == nil {
		resp.Items = []*domain.Manifest{}
	}
	if resp.Skipped == nil {
		resp.Skipped = []services.SkippedRecord{}
	}
	return resp
}
