package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"splat-notifyer/internal/constants"
	"splat-notifyer/internal/domain"

	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("config not found")

// StoredConfig is a submitted configuration together with the schedule it was
// registered under.
type StoredConfig struct {
	WebhookURL   string
	ScheduleName string
	Config       domain.Config
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type WebhookConfigRepository struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewWebhookConfigRepository(sqlDB *sql.DB, logger zerolog.Logger) *WebhookConfigRepository {
	return &WebhookConfigRepository{db: sqlDB, logger: logger, now: time.Now}
}

func (r *WebhookConfigRepository) Get(ctx context.Context, webhookURL string) (*StoredConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var (
		sc  = StoredConfig{WebhookURL: webhookURL}
		raw string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT schedule_name, config_json, created_at, updated_at FROM webhook_configs WHERE webhook_url = ?`,
		webhookURL,
	).Scan(&sc.ScheduleName, &raw, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to read webhook config")
		return nil, fmt.Errorf("failed to read webhook config: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &sc.Config); err != nil {
		return nil, fmt.Errorf("failed to decode stored config: %w", err)
	}
	return &sc, nil
}

// Upsert stores cfg under its webhook URL, keeping the original creation
// time when the URL was already known.
func (r *WebhookConfigRepository) Upsert(ctx context.Context, scheduleName string, cfg domain.Config) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	now := r.now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhook_configs (webhook_url, schedule_name, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (webhook_url) DO UPDATE SET
			schedule_name = excluded.schedule_name,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at`,
		cfg.WebhookURL, scheduleName, string(raw), now, now,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("schedule", scheduleName).Msg("failed to upsert webhook config")
		return fmt.Errorf("failed to upsert webhook config: %w", err)
	}

	r.logger.Debug().Str("schedule", scheduleName).Int("rules", len(cfg.Rules)).Msg("webhook config stored")
	return nil
}

func (r *WebhookConfigRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhook_configs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count webhook configs: %w", err)
	}
	return n, nil
}
