package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"formbridge/internal/metadata"
)

// WebhookRepo persists webhook configurations, one row per webhook.
type WebhookRepo struct {
	store *Store
	now   func() time.Time
}

func NewWebhookRepo(s *Store) *WebhookRepo {
	return &WebhookRepo{store: s, now: time.Now}
}

// Create assigns a fresh id, normalizes cfg and persists it.
func (r *WebhookRepo) Create(ctx context.Context, cfg *metadata.WebhookConfig) (string, error) {
	cfg.Normalize()
	cfg.ID = GenerateUUID()
	cfg.Created = r.now().UTC()

	definition, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal webhook: %w", err)
	}

	pb := r.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("INSERT INTO _webhooks (id, name, definition) VALUES (%s, %s, %s)",
		pb.Add(cfg.ID), pb.Add(cfg.Name), pb.Add(string(definition)))
	if _, err := Exec(ctx, r.store.DB, query, pb.Params()...); err != nil {
		return "", fmt.Errorf("insert webhook: %w", MapError(r.store.Dialect, err))
	}
	return cfg.ID, nil
}

// List returns every webhook in creation order.
func (r *WebhookRepo) List(ctx context.Context) ([]*metadata.WebhookConfig, error) {
	rows, err := QueryRows(ctx, r.store.DB, "SELECT id, definition FROM _webhooks ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}

	out := make([]*metadata.WebhookConfig, 0, len(rows))
	for _, row := range rows {
		cfg, err := decodeWebhook(row)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Get returns ErrNotFound when no webhook has the given id.
func (r *WebhookRepo) Get(ctx context.Context, id string) (*metadata.WebhookConfig, error) {
	pb := r.store.Dialect.NewParamBuilder()
	row, err := QueryRow(ctx, r.store.DB,
		fmt.Sprintf("SELECT id, definition FROM _webhooks WHERE id = %s", pb.Add(id)), pb.Params()...)
	if err != nil {
		return nil, err
	}
	return decodeWebhook(row)
}

// Delete returns ErrNotFound when no webhook has the given id.
func (r *WebhookRepo) Delete(ctx context.Context, id string) error {
	pb := r.store.Dialect.NewParamBuilder()
	n, err := Exec(ctx, r.store.DB,
		fmt.Sprintf("DELETE FROM _webhooks WHERE id = %s", pb.Add(id)), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete webhook %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeWebhook(row map[string]any) (*metadata.WebhookConfig, error) {
	id := asString(row["id"])
	var cfg metadata.WebhookConfig
	if err := json.Unmarshal([]byte(asString(row["definition"])), &cfg); err != nil {
		return nil, fmt.Errorf("decode webhook %s: %w", id, err)
	}
	cfg.ID = id
	return &cfg, nil
}
