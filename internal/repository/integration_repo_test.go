package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"timesheet/internal/models"
	"timesheet/internal/testutil"
)

func TestIntegrationRepository_CreateFindUpdateDelete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewIntegrationRepository(db)
	ctx := context.Background()

	integration := &models.Integration{
		ID:            "int-1",
		WorkspaceID:   "ws-1",
		Name:          "Toggl import",
		Type:          "TogglIntegration",
		CronPattern:   "*/5 * * * *",
		ConfigVersion: 1,
		Config:        `{"iv":"aa","encryptedData":"bb"}`,
	}
	require.NoError(t, repo.Create(ctx, integration))

	found, err := repo.FindByID(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, "Toggl import", found.Name)
	assert.Nil(t, found.RepeatJobKey)

	version, err := repo.UpdateConfig(ctx, "int-1", "TogglIntegration", "0 * * * *", `{"iv":"cc","encryptedData":"dd"}`)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	key := "integration-int-1-repeatJobKey"
	require.NoError(t, repo.SetRepeatJobKey(ctx, "int-1", &key))

	found, err = repo.FindByID(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", found.CronPattern)
	assert.Equal(t, `{"iv":"cc","encryptedData":"dd"}`, found.Config)
	require.NotNil(t, found.RepeatJobKey)
	assert.Equal(t, key, *found.RepeatJobKey)

	require.NoError(t, db.Create(&models.SyncState{IntegrationID: "int-1", Key: "k", Value: "v"}).Error)
	require.NoError(t, repo.Delete(ctx, "int-1"))

	_, err = repo.FindByID(ctx, "int-1")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	var states int64
	db.Model(&models.SyncState{}).Count(&states)
	assert.Zero(t, states)
}

func TestIntegrationRepository_UpdateConfigMissing(t *testing.T) {
	repo := NewIntegrationRepository(testutil.SetupTestDB(t))

	_, err := repo.UpdateConfig(context.Background(), "nope", "JiraIntegration", "* * * * *", "{}")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestIntegrationRepository_FindScheduled(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewIntegrationRepository(db)
	ctx := context.Background()

	for _, in := range []models.Integration{
		{ID: "b", WorkspaceID: "ws", CronPattern: "* * * * *"},
		{ID: "a", WorkspaceID: "ws", CronPattern: "0 * * * *"},
		{ID: "c", WorkspaceID: "other", CronPattern: ""},
	} {
		in := in
		require.NoError(t, repo.Create(ctx, &in))
	}

	scheduled, err := repo.FindScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 2)
	assert.Equal(t, "a", scheduled[0].ID)
	assert.Equal(t, "b", scheduled[1].ID)

	inWorkspace, err := repo.FindByWorkspace(ctx, "ws")
	require.NoError(t, err)
	assert.Len(t, inWorkspace, 2)
}

func TestRunRepository_ListNewestFirst(t *testing.T) {
	repo := NewRunRepository(testutil.SetupTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, repo.Create(ctx, &models.IntegrationRun{
			ID:            id,
			IntegrationID: "int-1",
			Status:        models.RunStatusSucceeded,
			Entries:       "[]",
			StartedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := repo.ListByIntegration(ctx, "int-1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)
}

func TestSyncStateRepository_GetSet(t *testing.T) {
	repo := NewSyncStateRepository(testutil.SetupTestDB(t))
	ctx := context.Background()

	_, ok, err := repo.Get(ctx, "int-1", "toggl.lastSyncedAt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Set(ctx, "int-1", "toggl.lastSyncedAt", "2024-03-01T00:00:00Z"))
	require.NoError(t, repo.Set(ctx, "int-1", "toggl.lastSyncedAt", "2024-03-02T00:00:00Z"))

	value, ok, err := repo.Get(ctx, "int-1", "toggl.lastSyncedAt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-03-02T00:00:00Z", value)

	_, ok, err = repo.Get(ctx, "int-2", "toggl.lastSyncedAt")
	require.NoError(t, err)
	assert.False(t, ok)
}
