package server

import (
	"flag"
	"path/filepath"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.DBPath != "gametable.db" {
		t.Errorf("DBPath = %q, want gametable.db", cfg.DBPath)
	}
}

func TestParseConfigFlagOverride(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-db", "custom.db"})
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.DBPath != "custom.db" {
		t.Errorf("DBPath = %q, want custom.db", cfg.DBPath)
	}
}

func TestNewAppWiresServices(t *testing.T) {
	cfg := Config{DBPath: filepath.Join(t.TempDir(), "test.db")}
	app, err := NewApp(cfg)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer app.Close()

	if app.Lobbies == nil || app.Games == nil || app.Profiles == nil {
		t.Fatal("services not wired")
	}
	names := app.Engines.Names()
	if len(names) != 1 || names[0] != "tictactoe" {
		t.Errorf("Names() = %v, want [tictactoe]", names)
	}
}
