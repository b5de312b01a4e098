// Package main provides the walletlinkd daemon - the wallet connection layer
// for the on-chain portfolio frontend.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onchain-portfolio/walletlink/internal/config"
	"github.com/onchain-portfolio/walletlink/internal/contracts/portfolio"
	"github.com/onchain-portfolio/walletlink/internal/provider"
	"github.com/onchain-portfolio/walletlink/internal/rpc"
	"github.com/onchain-portfolio/walletlink/internal/storage"
	"github.com/onchain-portfolio/walletlink/internal/wallet"
	"github.com/onchain-portfolio/walletlink/pkg/helpers"
	"github.com/onchain-portfolio/walletlink/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.walletlink", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		bridgeURL   = flag.String("bridge", "", "Wallet bridge websocket URL, overrides config")
		deployments = flag.String("deployments", "", "Deployment records directory, overrides config")
		noAuto      = flag.Bool("no-auto-connect", false, "Do not restore the previous session at startup")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("walletlinkd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Load or create config file
	cfgPath := config.ConfigPath(*dataDir)
	if *configFile != "" {
		cfgPath = *configFile
	}
	cfg, err := config.LoadConfigFile(cfgPath, *dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file
	if *apiAddr != "" {
		cfg.API.ListenAddr = *apiAddr
	}
	if *bridgeURL != "" {
		cfg.Provider.BridgeURL = *bridgeURL
	}
	if *deployments != "" {
		cfg.DeploymentsDir = *deployments
	}
	if *noAuto {
		cfg.Connection.AutoConnect = false
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *configFile == "" {
		cfg.Storage.DataDir = *dataDir
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", "error", err)
	}

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.ExpandPath(cfgPath))

	registry, err := cfg.BuildRegistry()
	if err != nil {
		log.Fatal("Failed to build network registry", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	dataPath := config.ExpandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", store.Path())

	recorder, err := storage.NewRecorder(store, cfg.Connection.JournalLimit, log.Component("journal"))
	if err != nil {
		log.Fatal("Failed to read session history", "error", err)
	}

	// Wallet provider: absent unless a bridge is configured
	var (
		bridge *provider.BridgeClient
		prov   provider.Provider
	)
	if cfg.Provider.BridgeURL != "" {
		bridge = provider.NewBridgeClient(provider.DefaultBridgeConfig(cfg.Provider.BridgeURL), log.Component("bridge"))
		prov = bridge
	} else {
		log.Warn("No wallet bridge configured; connect requests will fail")
	}
	gateway := provider.NewGateway(prov, cfg.Provider.RateLimit, cfg.Provider.RateBurst, log.Component("gateway"))

	binder := portfolio.NewBinder(nil, log.Component("portfolio"))
	defer binder.Close()

	hub := rpc.NewWSHub(log.Component("ws"))

	machine := wallet.New(wallet.Options{
		Registry: registry,
		Gateway:  gateway,
		Binder:   binder,
		Sink:     wallet.MultiSink(recorder, hub),
		Config:   wallet.ConfigFrom(cfg),
		Logger:   log.Component("wallet"),
	})
	defer machine.Close()

	rpcServer := rpc.NewServer(rpc.Options{
		Machine: machine,
		Store:   store,
		Hub:     hub,
		Logger:  log.Component("rpc"),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(gctx) })

	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
		g.Go(func() error { return machine.Run(gctx, bridge.Events()) })
	}

	if err := rpcServer.Start(cfg.API.ListenAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		return rpcServer.Stop()
	})

	printBanner(log, cfg, registry, rpcServer.Addr())

	if cfg.Connection.AutoConnect && bridge != nil {
		g.Go(func() error {
			restoreSession(gctx, log, machine, recorder)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Shutdown with error", "error", err)
	}

	log.Info("Goodbye!")
}

// restoreSession silently reconnects if the previous run ended connected.
func restoreSession(ctx context.Context, log *logging.Logger, m *wallet.Machine, rec *storage.Recorder) {
	last := rec.Current()
	if last == nil {
		log.Debug("No open session to restore")
		return
	}

	log.Info("Restoring previous session", "account", last.Account, "chain_id", last.ChainID)
	snap, err := m.AutoConnect(ctx)
	if err != nil {
		log.Warn("Session restore failed", "kind", wallet.ErrorKind(err), "error", err)
		return
	}
	log.Info("Session restored",
		"account", helpers.ShortAddress(snap.Account),
		"chain_id", snap.ChainID,
		"contract", snap.HasContract,
	)
}

func printBanner(log *logging.Logger, cfg *config.Config, registry *config.Registry, apiAddr string) {
	bridge := cfg.Provider.BridgeURL
	if bridge == "" {
		bridge = "(none)"
	}

	log.Info("")
	log.Info("=================================================")
	log.Info("  walletlinkd")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Wallet bridge: %s", bridge)
	log.Infof("  Networks: %d", registry.Len())
	for _, p := range registry.All() {
		contract := "no contract"
		if p.HasContract() {
			contract = p.ContractAddress.Hex()
		}
		log.Infof("    %-18s %-10d %s", p.Name, p.ChainID, contract)
	}
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Infof("  Data dir: %s", config.ExpandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
