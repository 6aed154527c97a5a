// Package app wires configuration, clients, storage and services into one
// running vaultsync instance shared by the server and CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobmcallan/vaultsync/internal/clients/alpaca"
	"github.com/bobmcallan/vaultsync/internal/clients/ethvault"
	"github.com/bobmcallan/vaultsync/internal/clients/indexsource"
	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
	"github.com/bobmcallan/vaultsync/internal/services/chain"
	"github.com/bobmcallan/vaultsync/internal/services/composition"
	"github.com/bobmcallan/vaultsync/internal/services/eventhub"
	"github.com/bobmcallan/vaultsync/internal/services/events"
	"github.com/bobmcallan/vaultsync/internal/services/portfolio"
	"github.com/bobmcallan/vaultsync/internal/services/rebalance"
	"github.com/bobmcallan/vaultsync/internal/services/reconcile"
	"github.com/bobmcallan/vaultsync/internal/storage"
)

const healthCheckTimeout = 5 * time.Second

// Deps are the external collaborators an App is built over.
// VaultSource may be nil when no RPC endpoint is configured.
type Deps struct {
	Store             interfaces.VaultStore
	Broker            interfaces.Broker
	Prices            interfaces.PriceSource
	CompositionSource interfaces.CompositionSource
	VaultSource       interfaces.VaultEventSource
}

// App holds all initialized services, clients and storage.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Store       interfaces.VaultStore
	Broker      interfaces.Broker
	Composition *composition.Service
	Reader      *portfolio.Reader
	Planner     *rebalance.Planner
	Executor    *rebalance.Executor
	Engine      *reconcile.Engine
	Scheduler   *reconcile.Scheduler
	Processor   *events.Processor
	Listener    *chain.Listener
	Hub         *eventhub.Hub
	StartupTime time.Time

	vaultSource     interfaces.VaultEventSource
	schedulerCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolveConfigPath picks the config file: the explicit path, VAULTSYNC_CONFIG,
// vaultsync.toml beside the binary, then config/vaultsync.toml.
func ResolveConfigPath(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("VAULTSYNC_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "vaultsync.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/vaultsync.toml" // fallback for development
		}
	}
	return configPath
}

// NewApp loads configuration and builds every client and service.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()

	config, err := common.LoadConfig(ResolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if missing := config.ValidateRequired(); len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	// Resolve relative sqlite path to binary directory
	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(getBinaryDir(), config.Storage.Path)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	store, err := storage.NewVaultStore(ctx, logger, &config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	broker := alpaca.NewClientFromConfig(&config.Clients, logger)

	source, err := indexsource.New(&config.Index, config.Clients.Prices.GetTimeout(), logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize index source: %w", err)
	}

	deps := Deps{
		Store:             store,
		Broker:            broker,
		Prices:            broker,
		CompositionSource: source,
	}

	if config.Chain.Enabled() {
		vault, err := ethvault.NewClient(config.Chain.RPCURL, config.Chain.VaultAddress, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize vault client: %w", err)
		}
		deps.VaultSource = vault
	} else {
		logger.Warn().Msg("Ethereum configuration missing, vault subscription disabled")
	}

	a := Assemble(config, logger, deps)
	a.StartupTime = startupStart

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// Assemble builds the service graph over deps without touching the network.
func Assemble(config *common.Config, logger *common.Logger, deps Deps) *App {
	brokerTimeout := config.Clients.Broker.GetTimeout()

	hub := eventhub.New(logger)
	comp := composition.NewService(deps.CompositionSource, deps.Prices, config.Index.GetCacheTTL(), logger)
	reader := portfolio.NewReader(deps.Broker, brokerTimeout, logger)
	planner := rebalance.NewPlanner(config.Rebalance.MinTradeAmount, config.Rebalance.MaxDeviation)
	executor := rebalance.NewExecutor(deps.Broker, config.Rebalance.GetOrderPacing(), brokerTimeout, logger)

	engine := reconcile.NewEngine(reader, comp, planner, executor, deps.Store, logger,
		reconcile.WithThreshold(config.Rebalance.Threshold),
		reconcile.WithPublisher(hub),
	)
	processor := events.NewProcessor(deps.Store, engine, config.Chain.AssetDecimals, logger,
		events.WithPublisher(hub),
	)
	listener := chain.NewListener(deps.VaultSource, processor, chain.OptionsFromConfig(&config.Chain), logger)

	return &App{
		Config:      config,
		Logger:      logger,
		Store:       deps.Store,
		Broker:      deps.Broker,
		Composition: comp,
		Reader:      reader,
		Planner:     planner,
		Executor:    executor,
		Engine:      engine,
		Scheduler:   reconcile.NewScheduler(engine, &config.Rebalance, logger),
		Processor:   processor,
		Listener:    listener,
		Hub:         hub,
		StartupTime: time.Now(),
		vaultSource: deps.VaultSource,
	}
}

// Start runs the startup reconciliation pass, then starts the event listener
// and the scheduler. A failed startup pass is logged and does not stop the app.
func (a *App) Start(ctx context.Context) error {
	go a.Hub.Run()

	if result, err := a.Engine.Reconcile(ctx, models.TriggerStartup); err != nil {
		a.Logger.Error().Err(err).Msg("Startup rebalance check failed")
	} else {
		a.Logger.Info().Bool("executed", result.Executed).Msg("Startup rebalance check complete")
	}

	if err := a.Listener.Start(ctx); err != nil {
		return fmt.Errorf("failed to start vault listener: %w", err)
	}

	if a.Config.Rebalance.Schedule {
		a.StartScheduler()
	}
	return nil
}

// Health gathers the state served by /health.
func (a *App) Health(ctx context.Context) *models.SystemHealth {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	h := &models.SystemHealth{Chain: a.Listener.Health()}

	if err := a.Store.Ping(checkCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("Health: database unreachable")
	} else {
		h.Database = true
	}

	if _, err := a.Broker.GetAccount(checkCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("Health: broker unreachable")
	} else {
		h.Broker = true
	}

	if n, err := a.Store.CountPendingDeposits(checkCtx); err == nil {
		h.PendingDeposits = n
	}
	if n, err := a.Store.CountPendingWithdrawals(checkCtx); err == nil {
		h.PendingWithdrawals = n
	}

	last, err := a.Store.LastRebalanceEvent(checkCtx)
	switch {
	case err == nil:
		h.LastRebalance = last
	case !errors.Is(err, interfaces.ErrNotFound):
		a.Logger.Warn().Err(err).Msg("Health: failed to read last rebalance")
	}
	return h
}

// Close releases all resources held by the App.
// Shutdown order: scheduler, listener, feed, chain connection, storage.
func (a *App) Close() {
	if a.schedulerCancel != nil {
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
	if a.Listener != nil {
		a.Listener.Stop()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if closer, ok := a.vaultSource.(interface{ Close() }); ok {
		closer.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
		a.Store = nil
	}
}
