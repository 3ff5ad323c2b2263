package integration

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"timesheet/internal/models"
	"timesheet/internal/secret"
)

// Repository is the persistence the Store needs; *repository.IntegrationRepository satisfies it.
type Repository interface {
	Create(ctx context.Context, integration *models.Integration) error
	UpdateConfig(ctx context.Context, id, typ, cronPattern, envelope string) (int, error)
	Delete(ctx context.Context, id string) error
}

// ScheduleHook keeps the job queue in step with integration writes.
type ScheduleHook interface {
	OnIntegrationCreated(ctx context.Context, integration *models.Integration) error
	OnIntegrationUpdated(ctx context.Context, old, updated Config, integrationID string) error
	OnIntegrationDeleted(ctx context.Context, integrationID string) error
}

// Store encrypts, decrypts and validates integration configs.
type Store struct {
	key    []byte
	repo   Repository
	hook   ScheduleHook
	logger *zap.Logger
}

// NewStore creates a Store. hook may be nil, in which case writes do not touch the queue.
func NewStore(key []byte, repo Repository, hook ScheduleHook, logger *zap.Logger) *Store {
	return &Store{key: key, repo: repo, hook: hook, logger: logger}
}

// Resolve decrypts and validates the stored config. Every failure is marked ErrConfigCorrupt.
func (s *Store) Resolve(_ context.Context, integration *models.Integration) (Config, error) {
	if integration.Config == "" {
		return nil, corrupt(errors.New("no config stored"), integration.ID)
	}

	var env secret.Envelope
	if err := json.Unmarshal([]byte(integration.Config), &env); err != nil {
		return nil, corrupt(errors.Wrap(err, "decode envelope"), integration.ID)
	}
	plaintext, err := secret.Decrypt(s.key, env)
	if err != nil {
		return nil, corrupt(err, integration.ID)
	}
	cfg, err := ParseConfig(plaintext)
	if err != nil {
		return nil, corrupt(err, integration.ID)
	}
	if integration.Type != "" && cfg.Type() != integration.Type {
		return nil, corrupt(errors.Newf("stored type %s does not match config type %s", integration.Type, cfg.Type()), integration.ID)
	}
	if err := cfg.Validate(); err != nil {
		return nil, corrupt(err, integration.ID)
	}
	return cfg, nil
}

// ResolveForDisplay resolves the config and masks its secrets.
// The result must never be fed back into a client or the scheduler.
func (s *Store) ResolveForDisplay(ctx context.Context, integration *models.Integration) (Config, error) {
	cfg, err := s.Resolve(ctx, integration)
	if err != nil {
		return nil, err
	}
	return scrubConfig(cfg), nil
}

func scrubConfig(cfg Config) Config {
	switch c := cfg.(type) {
	case TogglConfig:
		c.APIKey = secret.Scrub(c.APIKey, 4)
		return c
	case JiraConfig:
		c.APIToken = secret.Scrub(c.APIToken, 4)
		return c
	case GoogleSheetsConfig:
		c.ServiceAccountJSON = secret.Scrub(c.ServiceAccountJSON, -1)
		return c
	default:
		panic("integration: unhandled config type " + cfg.Type())
	}
}

// Create validates cfg, stores a new integration with it and schedules its job.
func (s *Store) Create(ctx context.Context, integration *models.Integration, cfg Config) error {
	if cfg == nil {
		return validationErrorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sealed, err := s.seal(cfg)
	if err != nil {
		return err
	}

	if integration.ID == "" {
		integration.ID = uuid.NewString()
	}
	integration.Type = cfg.Type()
	integration.CronPattern = cfg.Cron()
	integration.Config = sealed
	integration.ConfigVersion = 1
	integration.RepeatJobKey = nil
	if err := s.repo.Create(ctx, integration); err != nil {
		return err
	}

	if s.hook == nil {
		return nil
	}
	if err := s.hook.OnIntegrationCreated(ctx, integration); err != nil {
		return errors.Wrap(err, "schedule new integration")
	}
	return nil
}

// Persist validates and stores a new config for an existing integration, then applies any
// cron change to the queue synchronously.
func (s *Store) Persist(ctx context.Context, integration *models.Integration, cfg Config) error {
	if cfg == nil {
		return validationErrorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var old Config
	if integration.Config != "" {
		prev, err := s.Resolve(ctx, integration)
		if err != nil {
			// Overwriting a corrupt config is how it gets repaired; the hook then
			// treats the schedule as changed.
			s.logger.Warn("Replacing unreadable integration config",
				zap.String("integration_id", integration.ID),
				zap.Error(err))
		} else {
			old = prev
		}
	}

	sealed, err := s.seal(cfg)
	if err != nil {
		return err
	}
	version, err := s.repo.UpdateConfig(ctx, integration.ID, cfg.Type(), cfg.Cron(), sealed)
	if err != nil {
		return err
	}
	integration.Type = cfg.Type()
	integration.CronPattern = cfg.Cron()
	integration.Config = sealed
	integration.ConfigVersion = version

	if s.hook == nil {
		return nil
	}
	if err := s.hook.OnIntegrationUpdated(ctx, old, cfg, integration.ID); err != nil {
		return errors.Wrap(err, "reschedule integration")
	}
	return nil
}

// Delete removes the integration and its scheduled job.
func (s *Store) Delete(ctx context.Context, integrationID string) error {
	if err := s.repo.Delete(ctx, integrationID); err != nil {
		return err
	}
	if s.hook == nil {
		return nil
	}
	if err := s.hook.OnIntegrationDeleted(ctx, integrationID); err != nil {
		return errors.Wrap(err, "unschedule integration")
	}
	return nil
}

func (s *Store) seal(cfg Config) (string, error) {
	plaintext, err := MarshalConfig(cfg)
	if err != nil {
		return "", err
	}
	env, err := secret.Encrypt(s.key, plaintext)
	if err != nil {
		return "", errors.Wrap(err, "encrypt config")
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", errors.Wrap(err, "encode envelope")
	}
	return string(out), nil
}
