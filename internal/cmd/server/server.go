// Package server parses server command flags and starts the game table
// runtime: the sqlite-backed record store, the in-process event broker, the
// engine registry, and the lobby and game services on top of them.
package server

import (
	"context"
	"flag"
	"log"

	"github.com/louisbranch/gametable/internal/engine"
	"github.com/louisbranch/gametable/internal/games/tictactoe"
	entrypoint "github.com/louisbranch/gametable/internal/platform/cmd"
	"github.com/louisbranch/gametable/internal/realtime"
	realtimemem "github.com/louisbranch/gametable/internal/realtime/memory"
	"github.com/louisbranch/gametable/internal/service"
	"github.com/louisbranch/gametable/internal/storage/sqlite"
)

// Config holds server command configuration.
type Config struct {
	DBPath string `env:"GAMETABLE_DB_PATH" envDefault:"gametable.db"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the sqlite database file")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// App bundles the wired runtime. Transport layers embed it and expose the
// services over whatever protocol they speak.
type App struct {
	Store    *sqlite.Store
	Broker   realtime.Broker
	Engines  *engine.Registry
	Lobbies  *service.LobbyService
	Games    *service.GameService
	Profiles *service.ProfileService
}

// NewApp opens the store and wires the services with every built-in engine
// registered.
func NewApp(cfg Config) (*App, error) {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	broker := realtimemem.NewBroker()
	engines := engine.NewRegistry(tictactoe.New())

	return &App{
		Store:    store,
		Broker:   broker,
		Engines:  engines,
		Lobbies:  service.NewLobbyService(store, broker, engines),
		Games:    service.NewGameService(store, broker, engines),
		Profiles: service.NewProfileService(store, broker),
	}, nil
}

// Close releases the app's resources.
func (a *App) Close() error {
	return a.Store.Close()
}

// Run starts the server runtime and blocks until the context is canceled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceServer, func(ctx context.Context) error {
		app, err := NewApp(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := app.Close(); err != nil {
				log.Printf("close store: %v", err)
			}
		}()

		log.Printf("game table server ready, games: %v", app.Engines.Names())
		<-ctx.Done()
		return nil
	})
}
