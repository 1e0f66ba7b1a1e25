// Rovlink-vehicle is the vehicle-side agent of the ROV command and
// telemetry link.
//
// It maintains a reconnecting TCP connection to the shore station,
// streams heartbeat telemetry at a fixed cadence, and applies incoming
// control commands. Without a configured shore address it discovers the
// station over mDNS.
//
// Usage:
//
//	rovlink-vehicle run [flags]
//
// See 'rovlink-vehicle run --help' for available options.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/driftlab/rovlink/internal/config"
	"github.com/driftlab/rovlink/internal/discovery"
	"github.com/driftlab/rovlink/internal/logging"
	"github.com/driftlab/rovlink/internal/message"
	"github.com/driftlab/rovlink/internal/vehicle"
	"github.com/driftlab/rovlink/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rovlink-vehicle",
	Short: "Rovlink vehicle agent",
	Long: `The vehicle-side agent of the ROV command and telemetry link.

The agent connects out to the shore station, reconnecting for as long as
the process runs, sends heartbeat telemetry once per interval, and applies
control commands received from shore.

For the shore-station server, use the separate 'rovlink-shore' utility.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// Run command flags
var (
	configPath string
	shoreAddr  string
	logLevel   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the vehicle agent",
	Long: `Run the vehicle agent until interrupted.

With --shore (or shore_addr in the config file) the agent dials that
address directly. Otherwise it browses mDNS for a shore station first and
fails if none answers within the discovery timeout.`,
	Example: `  # Discover the shore station over mDNS
  rovlink-vehicle run

  # Static shore address
  rovlink-vehicle run --shore 192.168.4.10:65432

  # From a config file with verbose logging
  rovlink-vehicle run --config vehicle.yaml --log-level debug`,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	runCmd.Flags().StringVar(&shoreAddr, "shore", "", "Shore station address as host:port (empty = mDNS discovery)")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadVehicle(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("shore") {
		cfg.ShoreAddr = shoreAddr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	defer logging.Sync()

	if cfg.ShoreAddr == "" {
		station, err := discovery.FindStation(context.Background(), cfg.DiscoverTimeout)
		if err != nil {
			return fmt.Errorf("no shore address configured and discovery failed: %w", err)
		}
		logging.Info("Discovered shore station",
			zap.String("instance", station.Instance),
			zap.String("addr", station.Addr()),
		)
		cfg.ShoreAddr = station.Addr()
	}

	telemetry := vehicle.NewTelemetry()

	// The heartbeat-request callback needs the link, so declare it first.
	var link *vehicle.Link
	link = vehicle.New(cfg, vehicle.Callbacks{
		OnControl: func(cm message.ControlMessage) {
			telemetry.Apply(cm)
		},
		OnHeartbeatRequest: func() {
			hb := telemetry.Snapshot()
			if err := link.SendHeartbeat(&hb); err != nil {
				logging.Warn("Failed to answer heartbeat request", zap.Error(err))
			}
		},
		OnConnectionChange: func(connected bool) {
			if connected {
				logging.Info("Link up", zap.String("shore_addr", cfg.ShoreAddr))
			} else {
				logging.Warn("Link down")
			}
		},
	})

	if err := link.Start(); err != nil {
		return err
	}
	defer link.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !link.Connected() {
				continue
			}
			hb := telemetry.Snapshot()
			if err := link.SendHeartbeat(&hb); err != nil {
				logging.Debug("Heartbeat send failed", zap.Error(err))
			}
		case <-sig:
			logging.Info("Shutting down")
			return nil
		}
	}
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rovlink-vehicle %s (commit: %s)\n", version.Version, version.Commit)
	},
}
