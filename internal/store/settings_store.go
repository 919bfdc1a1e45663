package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vbonduro/critterkeep/internal/apperr"
)

// Setting keys.
const (
	SettingLastFamilySync  = "last_family_sync"
	SettingLastSyncError   = "last_sync_error"
	SettingLastBackup      = "last_backup"
	SettingLastBackupError = "last_backup_error"
)

// SettingsStore is a small key-value table for timestamps and last errors.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the value for key and whether it was set.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.New(apperr.KindStorage, "get setting", fmt.Errorf("failed to get setting[%s]: %w", key, err))
	}
	return value, true, nil
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return apperr.New(apperr.KindStorage, "set setting", fmt.Errorf("failed to set setting[%s]: %w", key, err))
	}
	return nil
}

func (s *SettingsStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return apperr.New(apperr.KindStorage, "delete setting", fmt.Errorf("failed to delete setting[%s]: %w", key, err))
	}
	return nil
}

// GetTime returns the timestamp stored under key, or nil if unset.
func (s *SettingsStore) GetTime(ctx context.Context, key string) (*time.Time, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, "get setting", fmt.Errorf("setting[%s] is not a timestamp: %w", key, err))
	}
	return &t, nil
}

func (s *SettingsStore) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.Set(ctx, key, t.UTC().Format(time.RFC3339Nano))
}
