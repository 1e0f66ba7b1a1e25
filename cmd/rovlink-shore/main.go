// Rovlink-shore is the shore-station half of the ROV command and
// telemetry link.
//
// It accepts TCP connections from vehicles, decodes their heartbeat
// telemetry, and broadcasts operator control commands. It can run
// headless ('server') for integration with an external operator
// station, or with the built-in terminal dashboard ('console').
//
// Usage:
//
//	rovlink-shore server [flags]
//	rovlink-shore console [flags]
//
// See 'rovlink-shore server --help' for available options.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/driftlab/rovlink/internal/config"
	"github.com/driftlab/rovlink/internal/console"
	"github.com/driftlab/rovlink/internal/discovery"
	"github.com/driftlab/rovlink/internal/logging"
	"github.com/driftlab/rovlink/internal/message"
	"github.com/driftlab/rovlink/internal/metrics"
	"github.com/driftlab/rovlink/internal/shore"
	"github.com/driftlab/rovlink/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rovlink-shore",
	Short: "Rovlink shore station",
	Long: `The shore-station server of the ROV command and telemetry link.

The station listens for vehicle connections, receives heartbeat telemetry,
and broadcasts control commands to every connected vehicle. By default it
advertises itself over mDNS so vehicles on the same network need no static
shore address.

For the vehicle-side agent, use the separate 'rovlink-vehicle' utility.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(versionCmd)
}

// Shared server flags
var (
	configPath  string
	host        string
	port        int
	logLevel    string
	metricsAddr string
	noAdvertise bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the shore station headless",
	Long: `Run the shore station without the operator dashboard.

Heartbeats and connection events are logged; control must come from an
external operator station. Use 'rovlink-shore console' for the built-in
dashboard instead.`,
	Example: `  # Run on the default port with mDNS advertisement
  rovlink-shore server

  # Custom port, verbose logging, Prometheus metrics
  rovlink-shore server --port 7000 --log-level debug --metrics-addr 127.0.0.1:9100

  # From a config file
  rovlink-shore server --config shore.yaml`,
	RunE: runServer,
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Run the shore station with the operator dashboard",
	Long: `Run the shore station with the interactive terminal dashboard.

The dashboard shows connected vehicles and live telemetry, and turns
keystrokes into control broadcasts. Logging is routed away from the
terminal; use --log-level only together with ROVLINK_LOG_LEVEL tooling
that captures stderr.`,
	Example: `  # Dashboard on the default port
  rovlink-shore console

  # Dashboard with a config file
  rovlink-shore console --config shore.yaml`,
	RunE: runConsole,
}

func init() {
	for _, cmd := range []*cobra.Command{serverCmd, consoleCmd} {
		cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
		cmd.Flags().StringVar(&host, "host", "", "Listen address (empty = all interfaces)")
		cmd.Flags().IntVar(&port, "port", config.DefaultPort, "Listen port")
		cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
		cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (disabled if empty)")
		cmd.Flags().BoolVar(&noAdvertise, "no-mdns", false, "Disable mDNS advertisement")
	}
}

// loadConfig merges the config file with any explicitly set flags.
func loadConfig(cmd *cobra.Command) (config.ShoreConfig, error) {
	cfg, err := config.LoadShore(configPath)
	if err != nil {
		return config.ShoreConfig{}, err
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if noAdvertise {
		cfg.Advertise = false
	}
	if err := cfg.Validate(); err != nil {
		return config.ShoreConfig{}, err
	}
	return cfg, nil
}

// startStation brings up the server plus its optional sidecars and
// returns a teardown function.
func startStation(cfg config.ShoreConfig, cb shore.Callbacks) (*shore.Server, func(), error) {
	srv := shore.New(cfg, cb)
	if err := srv.Start(); err != nil {
		return nil, nil, err
	}

	var adv *discovery.Advertiser
	if cfg.Advertise {
		var err error
		adv, err = discovery.Advertise(cfg.Instance, cfg.Port)
		if err != nil {
			// The station still works with static addressing.
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		}
	}

	var metricsSrv interface{ Close() error }
	if cfg.MetricsAddr != "" {
		var err error
		metricsSrv, err = metrics.Serve(cfg.MetricsAddr)
		if err != nil {
			srv.Stop()
			if adv != nil {
				adv.Shutdown()
			}
			return nil, nil, fmt.Errorf("failed to start metrics endpoint: %w", err)
		}
	}

	teardown := func() {
		if metricsSrv != nil {
			_ = metricsSrv.Close()
		}
		if adv != nil {
			adv.Shutdown()
		}
		srv.Stop()
	}
	return srv, teardown, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	defer logging.Sync()

	_, teardown, err := startStation(cfg, shore.Callbacks{
		OnHeartbeat: func(id string, hb message.Heartbeat) {
			logging.Info("Heartbeat",
				zap.String("conn_id", id),
				zap.Int("surface_error", hb.SurfaceError),
				zap.Float64("battery_voltage", hb.BatteryVoltage),
				zap.Float64("temperature", hb.Temperature),
			)
		},
		OnConnectionChange: func(connected bool, id string, addr net.Addr) {
			if connected {
				logging.Info("Vehicle connected", zap.String("conn_id", id))
			} else {
				logging.Info("Vehicle disconnected", zap.String("conn_id", id))
			}
		},
	})
	if err != nil {
		return err
	}
	defer teardown()

	// Block until interrupted.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logging.Info("Shutting down")
	return nil
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// The dashboard owns the terminal; logs stay off unless explicitly
	// requested via config or environment.
	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	defer logging.Sync()

	dash := console.New()
	srv, teardown, err := startStation(cfg, dash.Callbacks())
	if err != nil {
		return err
	}
	defer teardown()

	return dash.Run(srv)
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rovlink-shore %s (commit: %s)\n", version.Version, version.Commit)
	},
}
