package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/melih/lightd/internal/billing"
	"github.com/melih/lightd/internal/config"
	"github.com/melih/lightd/internal/containerstore"
	"github.com/melih/lightd/internal/dockerdriver"
	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/eventbus"
	"github.com/melih/lightd/internal/firewall"
	"github.com/melih/lightd/internal/httpapi"
	"github.com/melih/lightd/internal/install"
	"github.com/melih/lightd/internal/logging"
	"github.com/melih/lightd/internal/portpool"
	"github.com/melih/lightd/internal/remotesync"
	"github.com/melih/lightd/internal/runtime"
	"github.com/melih/lightd/internal/storage"
	"github.com/melih/lightd/internal/tokens"
	"github.com/melih/lightd/internal/volumeimport"
	"github.com/melih/lightd/internal/wsgateway"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lightd daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	dev, _ := cmd.Flags().GetBool("dev")

	logging.Init(dev)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := storage.Open(
		filepath.Join(cfg.Storage.BasePath, "lightd.db"),
		"containers", "ports", "tokens",
	)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	driver, err := dockerdriver.NewAdapter()
	if err != nil {
		return fmt.Errorf("create docker driver: %w", err)
	}

	var fw firewall.Applier = firewall.NewIPTables()
	if dev {
		fw = firewall.Noop{}
	}

	store := containerstore.New(db)
	pool := portpool.New(db, fw)
	bus := eventbus.New()
	locks := runtime.NewLocks()
	tokenMgr := tokens.NewManager(db)

	var remote *remotesync.Client
	if cfg.Remote != nil && cfg.Remote.Enabled {
		remote = remotesync.New(cfg.Remote.URL, cfg.Remote.Token)
	}

	volumes := volumeimport.New(cfg.Storage.VolumesPath)
	pipeline := install.NewPipeline(store, pool, driver, bus, locks, remote, volumes)
	sup := runtime.NewSupervisor(store, driver, bus, locks)
	rebinder := runtime.NewRebinder(sup, pool, volumes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bootReconcile(ctx, store, pool, fw, driver); err != nil {
		log.Warn().Err(err).Msg("boot reconciliation encountered errors")
	}

	if cfg.Monitoring.Enabled {
		sampler := billing.NewSampler(store, driver, time.Duration(cfg.Monitoring.IntervalMS)*time.Millisecond)
		go sampler.Run(ctx)
	}
	go runTokenCleanup(ctx, tokenMgr)

	gateway := wsgateway.New(bus, sup, cfg.Authorization.Token)
	app := httpapi.Router(httpapi.Deps{
		Containers: httpapi.NewContainerHandler(store, pipeline, sup, rebinder),
		Ports:      httpapi.NewPortHandler(pool),
		Proxy:      httpapi.NewProxyHandler(store),
		WSUpgrade:  gateway.Upgrade,
		WSHandler:  gateway.Handler(),
		Token:      cfg.Authorization.Token,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("lightd listening")
		if err := app.Listen(addr); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server error")
	}

	cancel()
	return app.Shutdown()
}

// bootReconcile runs ContainerStore.Reconcile and the firewall sweep
// described in spec.md §9's design notes, before the HTTP listener
// starts accepting traffic.
func bootReconcile(ctx context.Context, store *containerstore.Store, pool *portpool.Pool, fw firewall.Applier, driver dockerdriver.Driver) error {
	fixed, err := store.Reconcile(ctx, driver)
	if err != nil {
		return fmt.Errorf("reconcile container store: %w", err)
	}
	if fixed > 0 {
		log.Info().Int("count", fixed).Msg("marked orphaned installs failed at boot")
	}

	entries, err := pool.List(ctx)
	if err != nil {
		return fmt.Errorf("list port pool: %w", err)
	}
	bindings := make([]domain.PortBinding, 0, len(entries))
	for _, e := range entries {
		bindings = append(bindings, domain.PortBinding{IP: e.IP, Port: e.Port, Protocol: e.Protocol})
	}
	return fw.Reconcile(ctx, bindings)
}

func runTokenCleanup(ctx context.Context, mgr *tokens.Manager) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := mgr.CleanupExpired(ctx); err != nil {
				log.Warn().Err(err).Msg("token cleanup failed")
			}
		}
	}
}
