package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lightdaemon/lightd/pkg/api"
	"github.com/lightdaemon/lightd/pkg/auth"
	"github.com/lightdaemon/lightd/pkg/billing"
	"github.com/lightdaemon/lightd/pkg/config"
	"github.com/lightdaemon/lightd/pkg/console"
	"github.com/lightdaemon/lightd/pkg/eventhub"
	"github.com/lightdaemon/lightd/pkg/firewall"
	"github.com/lightdaemon/lightd/pkg/layout"
	"github.com/lightdaemon/lightd/pkg/lifecycle"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/metrics"
	"github.com/lightdaemon/lightd/pkg/netrebind"
	"github.com/lightdaemon/lightd/pkg/portpool"
	"github.com/lightdaemon/lightd/pkg/power"
	"github.com/lightdaemon/lightd/pkg/registry"
	"github.com/lightdaemon/lightd/pkg/remote"
	"github.com/lightdaemon/lightd/pkg/runtime"
	"github.com/lightdaemon/lightd/pkg/stats"
	"github.com/lightdaemon/lightd/pkg/storage"
	"github.com/lightdaemon/lightd/pkg/types"
	"github.com/lightdaemon/lightd/pkg/update"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lightd",
	Short: "lightd - single-node container orchestration daemon",
	Long: `lightd installs, runs and supervises user containers on a single
host: image pull and install scripts, start/stop/restart, live resource and
volume updates, per-container firewalling, usage billing, and a WebSocket
console/stats feed, all behind one HTTP+WS API.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"lightd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "/etc/lightd/config.json", "Path to the daemon's JSON config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.WithComponent("config").Warn().Str("path", path).Msg("config file not found, using defaults")
		return config.Default(), nil
	}
	return config.Load(path)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lightd daemon",
	RunE:  runServe,
}

// daemon bundles every component opened during boot so Shutdown can close
// them in reverse order.
type daemon struct {
	containerStore *storage.BoltContainerStore
	portStore      *storage.BoltPortStore
	firewallStore  *storage.BoltFirewallStore
	tokenStore     *storage.BoltTokenStore
	docker         *runtime.Docker
	server         *api.Server
	billingCancel  context.CancelFunc
	remoteCancel   context.CancelFunc
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.WithComponent("boot").Info().Str("config", cfg.String()).Msg("starting lightd")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", false, "initializing")
	metrics.RegisterComponent("docker", false, "initializing")
	metrics.RegisterComponent("api", false, "initializing")

	d, err := bootstrap(cfg)
	if err != nil {
		metrics.RegisterComponent("storage", false, err.Error())
		return fmt.Errorf("bootstrap: %w", err)
	}

	metrics.RegisterComponent("storage", true, "ready")
	metrics.RegisterComponent("docker", true, "ready")
	metrics.RegisterComponent("api", true, "ready")

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	log.WithComponent("boot").Info().Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).Msg("lightd is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.WithComponent("boot").Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.WithComponent("boot").Error().Err(err).Msg("api server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	d.shutdown(shutdownCtx)

	log.WithComponent("boot").Info().Msg("shutdown complete")
	return nil
}

// bootstrap opens every store, constructs every engine and wires the HTTP+WS
// adapter on top of them. It fails fast: an unreadable storage base path or
// an unreachable runtime at boot is a fatal error, per the daemon's error
// handling design.
func bootstrap(cfg config.Config) (*daemon, error) {
	containerStore, err := storage.NewBoltContainerStore(cfg.Storage.BasePath)
	if err != nil {
		return nil, fmt.Errorf("open container store: %w", err)
	}
	portStore, err := storage.NewBoltPortStore(cfg.Storage.BasePath)
	if err != nil {
		return nil, fmt.Errorf("open port store: %w", err)
	}
	firewallStore, err := storage.NewBoltFirewallStore(cfg.Storage.BasePath)
	if err != nil {
		return nil, fmt.Errorf("open firewall store: %w", err)
	}
	tokenStore, err := storage.NewBoltTokenStore(cfg.Storage.BasePath)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	docker, err := runtime.New(cfg.Docker.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	if err := docker.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping docker: %w", err)
	}

	lay, err := layout.New(cfg.Storage.VolumesPath, cfg.Storage.ContainersPath)
	if err != nil {
		return nil, fmt.Errorf("prepare storage layout: %w", err)
	}

	reg := registry.New(containerStore)
	hub := eventhub.New()
	lifecycleEngine := lifecycle.New(reg, docker, lay, hub)
	powerEngine := power.New(reg, docker, hub)
	rebinder := netrebind.New(reg, docker, lay, hub)
	updateEngine := update.New(reg, docker, hub)
	firewallMgr := firewall.New(firewallStore, docker)
	portPool := portpool.New(portStore)
	consoleStreamer := console.New(reg, docker, hub)
	statsCollector := stats.New(reg, docker, hub)
	tokenMgr := auth.NewManager(tokenStore)

	attachStreamers := func(internalID string) {
		if err := consoleStreamer.Start(internalID); err != nil {
			log.WithContainer(internalID).Warn().Err(err).Msg("failed to attach console streamer")
		}
		if err := statsCollector.Start(internalID); err != nil {
			log.WithContainer(internalID).Warn().Err(err).Msg("failed to attach stats collector")
		}
	}
	lifecycleEngine.OnReady(attachStreamers)
	powerEngine.OnStart(attachStreamers)

	billingInterval := time.Duration(cfg.Monitoring.IntervalMS) * time.Millisecond
	billingTracker := billing.New(docker, reg, cfg.Monitoring.Billing, billingInterval)

	d := &daemon{
		containerStore: containerStore,
		portStore:      portStore,
		firewallStore:  firewallStore,
		tokenStore:     tokenStore,
		docker:         docker,
	}

	var syncMgr *remote.SyncManager
	if cfg.Remote != nil && cfg.Remote.Enabled {
		remoteClient := remote.New(remote.Config{URL: cfg.Remote.URL, Token: cfg.Remote.Token})
		syncMgr = remote.NewSyncManager(remoteClient)

		remoteCtx, cancel := context.WithCancel(context.Background())
		d.remoteCancel = cancel
		syncMgr.StartHealthCheck(remoteCtx)

		lifecycleEngine.SetRemote(syncMgr)
		rebinder.SetRemote(syncMgr)
	}

	if cfg.Monitoring.Enabled {
		if syncMgr != nil {
			billingTracker.OnSample(func(containerID string, snapshot types.UsageSnapshot, cost float64) {
				syncMgr.NotifyBilling(containerID, remote.BillingSnapshot{
					MemoryGB:      snapshot.MemoryGB,
					CPUVCPUs:      snapshot.CPUVCPUs,
					StorageGB:     snapshot.StorageGB,
					EgressGB:      snapshot.EgressGB,
					DurationHours: snapshot.DurationHours,
					EstimatedCost: cost,
				})
			})
		}
		billingCtx, cancel := context.WithCancel(context.Background())
		d.billingCancel = cancel
		billingTracker.Start(billingCtx)
	}

	tokenCleanupTicker(tokenMgr)

	authCfg := auth.Config{
		Enabled:        cfg.Authorization.Enabled,
		Token:          cfg.Authorization.Token,
		AllowedOrigins: cfg.Authorization.AllowedOrigins,
	}

	deps := api.Deps{
		Registry:  reg,
		Hub:       hub,
		Lifecycle: lifecycleEngine,
		Power:     powerEngine,
		NetRebind: rebinder,
		Update:    updateEngine,
		Firewall:  firewallMgr,
		PortPool:  portPool,
		Console:   consoleStreamer,
		Stats:     statsCollector,
		Billing:   billingTracker,
		TokenAuth: tokenMgr,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	d.server = api.NewServer(addr, deps, authCfg)

	return d, nil
}

// tokenCleanupTicker runs the periodic expired-token sweep every five
// minutes for the lifetime of the process.
func tokenCleanupTicker(mgr *auth.Manager) {
	logger := log.WithComponent("auth")
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			removed, err := mgr.CleanupExpired()
			if err != nil {
				logger.Warn().Err(err).Msg("token cleanup sweep failed")
				continue
			}
			if removed > 0 {
				logger.Debug().Int("removed", removed).Msg("expired tokens cleaned up")
			}
		}
	}()
}

func (d *daemon) shutdown(ctx context.Context) {
	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			log.WithComponent("boot").Warn().Err(err).Msg("api server shutdown error")
		}
	}
	if d.billingCancel != nil {
		d.billingCancel()
	}
	if d.remoteCancel != nil {
		d.remoteCancel()
	}
	if d.docker != nil {
		if err := d.docker.Close(); err != nil {
			log.WithComponent("boot").Warn().Err(err).Msg("docker client close error")
		}
	}
	for _, closer := range []interface{ Close() error }{d.containerStore, d.portStore, d.firewallStore, d.tokenStore} {
		if err := closer.Close(); err != nil {
			log.WithComponent("boot").Warn().Err(err).Msg("store close error")
		}
	}
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage WebSocket one-shot auth tokens",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a one-shot WebSocket auth token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ttlSeconds, _ := cmd.Flags().GetInt64("ttl")
		singleUse, _ := cmd.Flags().GetBool("single-use")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := storage.NewBoltTokenStore(cfg.Storage.BasePath)
		if err != nil {
			return fmt.Errorf("open token store: %w", err)
		}
		defer store.Close()

		mgr := auth.NewManager(store)
		rec, err := mgr.Generate(time.Duration(ttlSeconds)*time.Second, singleUse)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}

		fmt.Printf("Token:      %s\n", rec.Token)
		fmt.Printf("Expires at: %s\n", time.Unix(rec.ExpiresAt, 0).Format(time.RFC3339))
		fmt.Printf("Single use: %t\n", rec.RemoveOnUse)
		return nil
	},
}

var tokenCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired tokens from the token store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := storage.NewBoltTokenStore(cfg.Storage.BasePath)
		if err != nil {
			return fmt.Errorf("open token store: %w", err)
		}
		defer store.Close()

		removed, err := auth.NewManager(store).CleanupExpired()
		if err != nil {
			return fmt.Errorf("cleanup expired tokens: %w", err)
		}
		fmt.Printf("Removed %d expired token(s)\n", removed)
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenGenerateCmd)
	tokenCmd.AddCommand(tokenCleanupCmd)

	tokenGenerateCmd.Flags().Int64("ttl", 60, "Token time-to-live in seconds")
	tokenGenerateCmd.Flags().Bool("single-use", true, "Destroy the token on first successful use")
}
