package integration

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"timesheet/internal/models"
	"timesheet/internal/secret"
)

var testKey = []byte(strings.Repeat("k", 32))

type mockRepo struct {
	created []*models.Integration
	updates []string
	deleted []string
	version int
	err     error
}

func (m *mockRepo) Create(_ context.Context, integration *models.Integration) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, integration)
	return nil
}

func (m *mockRepo) UpdateConfig(_ context.Context, id, typ, cronPattern, envelope string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.version++
	m.updates = append(m.updates, id+"|"+typ+"|"+cronPattern)
	return m.version, nil
}

func (m *mockRepo) Delete(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return m.err
}

type mockHook struct {
	created []string
	updated []string
	deleted []string
}

func (m *mockHook) OnIntegrationCreated(_ context.Context, integration *models.Integration) error {
	m.created = append(m.created, integration.ID)
	return nil
}

func (m *mockHook) OnIntegrationUpdated(_ context.Context, old, updated Config, id string) error {
	prev := "<nil>"
	if old != nil {
		prev = old.Cron()
	}
	m.updated = append(m.updated, id+":"+prev+"->"+updated.Cron())
	return nil
}

func (m *mockHook) OnIntegrationDeleted(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func newTestStore(t *testing.T) (*Store, *mockRepo, *mockHook) {
	repo := &mockRepo{version: 1}
	hook := &mockHook{}
	return NewStore(testKey, repo, hook, zaptest.NewLogger(t)), repo, hook
}

func TestStore_CreateThenResolve(t *testing.T) {
	store, repo, hook := newTestStore(t)
	integration := &models.Integration{WorkspaceID: "ws", Name: "toggl"}

	require.NoError(t, store.Create(context.Background(), integration, validToggl()))
	require.Len(t, repo.created, 1)
	assert.NotEmpty(t, integration.ID)
	assert.Equal(t, TypeToggl, integration.Type)
	assert.Equal(t, "*/30 * * * *", integration.CronPattern)
	assert.Nil(t, integration.RepeatJobKey)
	assert.Equal(t, []string{integration.ID}, hook.created)
	assert.NotContains(t, integration.Config, "toggl-api-key")

	cfg, err := store.Resolve(context.Background(), integration)
	require.NoError(t, err)
	assert.Equal(t, validToggl(), cfg)
}

func TestStore_CreateRejectsInvalid(t *testing.T) {
	store, repo, hook := newTestStore(t)
	bad := validJira()
	bad.CronPattern = "61 * * * *"

	err := store.Create(context.Background(), &models.Integration{}, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Empty(t, repo.created)
	assert.Empty(t, hook.created)
}

func TestStore_PersistPassesOldAndNewToHook(t *testing.T) {
	store, repo, hook := newTestStore(t)
	integration := &models.Integration{ID: "int-1"}
	require.NoError(t, store.Create(context.Background(), integration, validJira()))

	updated := validJira()
	updated.CronPattern = "*/5 * * * *"
	require.NoError(t, store.Persist(context.Background(), integration, updated))

	assert.Equal(t, []string{"int-1|JiraIntegration|*/5 * * * *"}, repo.updates)
	assert.Equal(t, []string{"int-1:0 * * * *->*/5 * * * *"}, hook.updated)
	assert.Equal(t, 2, integration.ConfigVersion)
	assert.Equal(t, "*/5 * * * *", integration.CronPattern)
}

func TestStore_PersistOverCorruptConfig(t *testing.T) {
	store, _, hook := newTestStore(t)
	integration := &models.Integration{ID: "int-2", Type: TypeJira, Config: `{"iv":"00","encryptedData":"zz"}`}

	require.NoError(t, store.Persist(context.Background(), integration, validJira()))
	assert.Equal(t, []string{"int-2:<nil>->0 * * * *"}, hook.updated)
}

func TestStore_ResolveFailsClosed(t *testing.T) {
	store, _, _ := newTestStore(t)

	env, err := secret.Encrypt(testKey, []byte(`{"type":"JiraIntegration","baseUrl":"nope"}`))
	require.NoError(t, err)
	invalid, _ := json.Marshal(env)

	otherKey := []byte(strings.Repeat("x", 32))
	foreign, err := secret.Encrypt(otherKey, []byte(`{"type":"JiraIntegration"}`))
	require.NoError(t, err)
	wrongKey, _ := json.Marshal(foreign)

	tests := []struct {
		name   string
		config string
	}{
		{name: "empty", config: ""},
		{name: "not an envelope", config: "plain"},
		{name: "wrong key", config: string(wrongKey)},
		{name: "fails validation", config: string(invalid)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Resolve(context.Background(), &models.Integration{ID: "x", Config: tt.config})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfigCorrupt))
		})
	}
}

func TestStore_ResolveTypeMismatch(t *testing.T) {
	store, _, _ := newTestStore(t)
	integration := &models.Integration{ID: "int-3"}
	require.NoError(t, store.Create(context.Background(), integration, validSheets()))

	integration.Type = TypeToggl
	_, err := store.Resolve(context.Background(), integration)
	assert.True(t, errors.Is(err, ErrConfigCorrupt))
}

func TestStore_ResolveForDisplay(t *testing.T) {
	store, _, _ := newTestStore(t)

	tests := []struct {
		cfg   Config
		check func(t *testing.T, c Config)
	}{
		{cfg: validToggl(), check: func(t *testing.T, c Config) {
			assert.Equal(t, "**************1234", c.(TogglConfig).APIKey)
		}},
		{cfg: validJira(), check: func(t *testing.T, c Config) {
			assert.Equal(t, "***********9876", c.(JiraConfig).APIToken)
			assert.Equal(t, "bot@acme.example", c.(JiraConfig).Email)
		}},
		{cfg: validSheets(), check: func(t *testing.T, c Config) {
			assert.NotContains(t, c.(GoogleSheetsConfig).ServiceAccountJSON, "service_account")
			assert.Equal(t, "sheet-id", c.(GoogleSheetsConfig).SpreadsheetID)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Type(), func(t *testing.T) {
			integration := &models.Integration{}
			require.NoError(t, store.Create(context.Background(), integration, tt.cfg))

			shown, err := store.ResolveForDisplay(context.Background(), integration)
			require.NoError(t, err)
			tt.check(t, shown)

			real, err := store.Resolve(context.Background(), integration)
			require.NoError(t, err)
			assert.Equal(t, tt.cfg, real)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	store, repo, hook := newTestStore(t)
	require.NoError(t, store.Delete(context.Background(), "int-9"))
	assert.Equal(t, []string{"int-9"}, repo.deleted)
	assert.Equal(t, []string{"int-9"}, hook.deleted)
}
