package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"volna/internal/core"
)

const settingsSchema = `
CREATE TABLE IF NOT EXISTS guild_settings (
	guild_id         TEXT PRIMARY KEY,
	always_connected INTEGER NOT NULL DEFAULT 0,
	premium          INTEGER NOT NULL DEFAULT 0
);`

// Settings is the SQLite-backed per-guild settings store. Guilds without a
// row read as the zero settings; rows appear on first write.
type Settings struct {
	db *sql.DB
}

// OpenSettings opens (creating if needed) the settings database at path.
func OpenSettings(path string) (*Settings, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	if _, err := db.Exec(settingsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply settings schema: %w", err)
	}
	return &Settings{db: db}, nil
}

func (s *Settings) Close() error {
	return s.db.Close()
}

// GuildSettings loads the guild's flags, zero values when never configured.
func (s *Settings) GuildSettings(ctx context.Context, guildID string) (core.GuildSettings, error) {
	var out core.GuildSettings
	err := s.db.QueryRowContext(ctx,
		`SELECT always_connected, premium FROM guild_settings WHERE guild_id = ?`,
		guildID).Scan(&out.AlwaysConnected, &out.Premium)
	if errors.Is(err, sql.ErrNoRows) {
		return core.GuildSettings{}, nil
	}
	if err != nil {
		return core.GuildSettings{}, fmt.Errorf("load guild settings: %w", err)
	}
	return out, nil
}

// SetAlwaysConnected persists the guild's always-connected flag.
func (s *Settings) SetAlwaysConnected(ctx context.Context, guildID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, always_connected) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET always_connected = excluded.always_connected`,
		guildID, enabled)
	if err != nil {
		return fmt.Errorf("store always-connected flag: %w", err)
	}
	return nil
}

// SetPremium persists the guild's premium flag.
func (s *Settings) SetPremium(ctx context.Context, guildID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, premium) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET premium = excluded.premium`,
		guildID, enabled)
	if err != nil {
		return fmt.Errorf("store premium flag: %w", err)
	}
	return nil
}
