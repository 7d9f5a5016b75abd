package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/testutil"
)

func TestHierarchyService_ListVersions_SortedAndCached(t *testing.T) {
	client := new(testutil.MockHierarchyClient)
	events := &testutil.RecordingEventLog{}
	client.On("ListVersions", mock.Anything, "acme", "cones").Return([]domain.Version{
		{ID: "acme/cones/1"}, {ID: "acme/cones/12"}, {ID: "acme/cones/3"},
	}, nil).Once()

	svc := NewHierarchyService(client, events, 8, time.Minute)

	versions, err := svc.ListVersions(context.Background(), "acme", "cones")
	require.NoError(t, err)
	assert.Equal(t, "acme/cones/12", versions[0].ID)
	assert.Equal(t, "acme/cones/1", versions[2].ID)

	_, err = svc.ListVersions(context.Background(), "acme", "cones")
	require.NoError(t, err)
	client.AssertNumberOfCalls(t, "ListVersions", 1)
	assert.Equal(t, []string{"list_versions"}, events.Names())
}

func TestHierarchyService_Invalidate(t *testing.T) {
	client := new(testutil.MockHierarchyClient)
	client.On("ListWorkspaces", mock.Anything).Return([]domain.Workspace{{ID: "acme", Name: "Acme"}}, nil)

	svc := NewHierarchyService(client, &testutil.RecordingEventLog{}, 8, time.Minute)
	_, err := svc.ListWorkspaces(context.Background())
	require.NoError(t, err)
	svc.Invalidate()
	_, err = svc.ListWorkspaces(context.Background())
	require.NoError(t, err)

	client.AssertNumberOfCalls(t, "ListWorkspaces", 2)
}

func TestHierarchyService_Errors(t *testing.T) {
	client := new(testutil.MockHierarchyClient)
	events := &testutil.RecordingEventLog{}
	client.On("ListProjects", mock.Anything, "acme").Return(nil, domain.ErrRemoteAuth)

	svc := NewHierarchyService(client, events, 8, time.Minute)

	_, err := svc.ListProjects(context.Background(), "acme")
	assert.ErrorIs(t, err, domain.ErrRemoteAuth)
	require.Len(t, events.Events(), 1)
	assert.Equal(t, "error", events.Events()[0].Level)

	_, err = svc.ListProjects(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = svc.ListVersions(context.Background(), "acme", "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
