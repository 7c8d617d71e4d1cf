package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestSettings(t *testing.T) *Settings {
	t.Helper()
	s, err := OpenSettings(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettings_DefaultsForUnknownGuild(t *testing.T) {
	s := openTestSettings(t)

	got, err := s.GuildSettings(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AlwaysConnected || got.Premium {
		t.Errorf("unknown guild should read zero settings, got %+v", got)
	}
}

func TestSettings_AlwaysConnectedRoundTrip(t *testing.T) {
	s := openTestSettings(t)
	ctx := context.Background()

	if err := s.SetAlwaysConnected(ctx, "g1", true); err != nil {
		t.Fatal(err)
	}
	got, err := s.GuildSettings(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.AlwaysConnected {
		t.Error("always-connected flag was not persisted")
	}

	if err := s.SetAlwaysConnected(ctx, "g1", false); err != nil {
		t.Fatal(err)
	}
	got, err = s.GuildSettings(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AlwaysConnected {
		t.Error("always-connected flag was not cleared")
	}
}

func TestSettings_PremiumIndependentOfAlwaysConnected(t *testing.T) {
	s := openTestSettings(t)
	ctx := context.Background()

	if err := s.SetPremium(ctx, "g1", true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAlwaysConnected(ctx, "g1", true); err != nil {
		t.Fatal(err)
	}

	got, err := s.GuildSettings(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Premium || !got.AlwaysConnected {
		t.Errorf("flags must not clobber each other, got %+v", got)
	}

	// Other guilds are untouched
	other, err := s.GuildSettings(ctx, "g2")
	if err != nil {
		t.Fatal(err)
	}
	if other.Premium || other.AlwaysConnected {
		t.Errorf("settings leaked across guilds: %+v", other)
	}
}
