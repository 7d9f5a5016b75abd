package dto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/services"
)

func TestManifestQuery_Filter(t *testing.T) {
	f, err := ManifestQuery{Since: "2024-11-01", Until: "2024-11-03T12:00:00Z", Status: "failed", Limit: 1000}.Filter()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), f.Since)
	assert.Equal(t, time.Date(2024, 11, 3, 12, 0, 0, 0, time.UTC), f.Until)
	assert.Equal(t, domain.StatusFailed, f.Status)
	assert.Equal(t, MaxPageSize, f.Limit)

	f, err = ManifestQuery{}.Filter()
	require.NoError(t, err)
	assert.True(t, f.Since.IsZero())
	assert.Equal(t, DefaultPageSize, f.Limit)

	_, err = ManifestQuery{Since: "yesterday"}.Filter()
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = ManifestQuery{Status: "planned"}.Filter()
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = ManifestQuery{Mode: "training"}.Filter()
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestToListManifestsResponse_NeverNull(t *testing.T) {
	resp := ToListManifestsResponse(&services.HistoryPage{})
	assert.NotNil(t, resp.Items)
	assert.NotNil(t, resp.Skipped)
	assert.Zero(t, resp.Total)
}
