package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/daemonp/elkm1bridge/internal/accessory"
	"github.com/daemonp/elkm1bridge/internal/cache"
	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/elk"
	"github.com/daemonp/elkm1bridge/internal/homeassistant"
	"github.com/daemonp/elkm1bridge/internal/homekit"
	"github.com/daemonp/elkm1bridge/internal/log"
	"github.com/daemonp/elkm1bridge/internal/mqtt"
	"github.com/daemonp/elkm1bridge/internal/panel"
	"github.com/daemonp/elkm1bridge/internal/registry"
	"github.com/daemonp/elkm1bridge/internal/schedule"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:     "elkm1bridge",
	Short:   "Bridge an Elk M1 security panel to HomeKit and MQTT.",
	Version: version,
	Args:    cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return run(ctx, configFile)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "config.yml", "path to configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger := log.NewLogger(cfg.Log)
	for _, err := range cfg.Validate() {
		logger.Warning("Configuration: %v", err)
	}

	link := elk.NewLink(elk.Options{
		Address:        cfg.Elk.Address,
		Port:           cfg.Elk.Port,
		Secure:         cfg.Elk.Secure,
		Username:       cfg.Elk.Username,
		Password:       cfg.Elk.Password,
		RequestTimeout: cfg.Timing.RequestTimeout,
	}, logger.With("elk"))

	var store *cache.Store
	if cfg.Cache.Enabled {
		store, err = cache.New(cfg.Cache.Path)
		if err != nil {
			logger.Warning("Accessory cache disabled: %v", err)
			store = nil
		}
	}
	reg := registry.New(store, logger.With("registry"))
	if err := reg.Load(); err != nil {
		logger.Warning("Failed to load accessory cache: %v", err)
	}

	notifier := &accessory.Fanout{}
	p := panel.NewPanel(cfg, link, reg, notifier, schedule.Real{}, logger)

	var wg sync.WaitGroup
	defer wg.Wait()

	if cfg.HomeKit.Enabled {
		hk := homekit.NewHost(cfg.HomeKit, logger.With("homekit"))
		notifier.Add(hk)
		p.OnDiscovery(hk.Update)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = hk.Run(ctx)
		}()
	}

	if cfg.MQTT.Enabled {
		m := mqtt.NewMQTT(&cfg.MQTT, logger.With("mqtt"))
		if cfg.HomeAssistant.Discovery {
			m.SetDiscovery(homeassistant.New(&cfg.HomeAssistant, m, logger.With("homeassistant")))
		}
		if err := m.Connect(); err != nil {
			return err
		}
		defer m.Close()

		notifier.Add(m)
		p.OnDiscovery(m.Update)
	}

	logger.Info("Starting elkm1bridge %s", version)
	return p.Run(ctx)
}
