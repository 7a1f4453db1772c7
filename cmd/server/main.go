// Command server starts the rebalancing decision engine's HTTP API.
//
// It wires the config, lifecycle stores, event sink and the Rebalancer
// Engine together, then serves the engine's sole public entry point at
// POST /rebalance.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/modules/rebalancer"
	"github.com/aristath/rebalancer/internal/server"
	"github.com/aristath/rebalancer/internal/staticdata"
	"github.com/aristath/rebalancer/internal/store"
)

func main() {
	var (
		configPath  string
		catalogPath string
		regimePath  string
		sqlitePath  string
		addr        string
	)
	flag.StringVar(&configPath, "config", "", "path to a YAML config file overriding defaults")
	flag.StringVar(&catalogPath, "catalog", "", "path to a YAML bucket catalog file")
	flag.StringVar(&regimePath, "regime", "", "path to a YAML static regime snapshot file")
	flag.StringVar(&sqlitePath, "db", "", "optional SQLite path for durable lifecycle state (default: in-memory)")
	flag.StringVar(&addr, "addr", ":8080", "HTTP listen address")
	flag.Parse()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("app", "rebalancer").Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	var catalog *staticdata.Catalog
	if catalogPath != "" {
		catalog, err = staticdata.LoadCatalog(catalogPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load bucket catalog")
		}
	} else {
		catalog = staticdata.NewCatalog(nil)
	}

	var regimeProvider *staticdata.RegimeProvider
	if regimePath != "" {
		regimeProvider, err = staticdata.LoadRegimeProvider(regimePath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load regime snapshot")
		}
	} else {
		regimeProvider = staticdata.DefaultRegimeProvider()
	}

	var repos *store.Repositories
	if sqlitePath != "" {
		var closeDB func() error
		repos, closeDB, err = store.OpenSQLite(sqlitePath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open lifecycle database")
		}
		defer closeDB()
	} else {
		repos = store.NewMemory()
	}

	bus := events.NewBus(log)
	sink := events.NewSink(bus, log, nil, 256)
	defer sink.Close()

	engine, err := rebalancer.New(rebalancer.Deps{
		Regime:  regimeProvider,
		Buckets: catalog,
		Repos:   repos,
		Sink:    sink,
	}, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct rebalancer engine")
	}

	srv := server.New(engine, addr, log)

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Info().Err(err).Msg("HTTP server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("error during HTTP server shutdown")
	}
}
