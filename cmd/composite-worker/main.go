// composite-worker runs one compute-worker actor for a single composite-metric
// definition file. The definition path is given as a positional argument,
// mirroring the one-process-per-definition model the configurator's emitted
// systemd service instances launch into.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fty-metrics/composite/pkg/bus"
	"github.com/fty-metrics/composite/pkg/settings"
	"github.com/fty-metrics/composite/pkg/util"
	"github.com/fty-metrics/composite/pkg/version"
	"github.com/fty-metrics/composite/pkg/worker"
)

const agentName = "composite-worker"

type App struct {
	logLevel      string
	busEndpoint   string
	sensorStream  string
	metricsStream string
	askBusPasswd  bool

	settings *settings.Settings
}

var app = &App{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           agentName + " CONFIG",
	Short:         "Evaluate one composite-metric definition against live sensor readings",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		app.settings, err = settings.Load()
		if err != nil {
			util.Warnf("could not load settings: %v", err)
			app.settings = &settings.Settings{}
		}

		if app.busEndpoint == "" {
			app.busEndpoint = app.settings.BusEndpoint
		}
		if app.sensorStream == "" {
			app.sensorStream = app.settings.GetMetricsStream()
		}
		if app.metricsStream == "" {
			app.metricsStream = app.settings.GetMetricsStream()
		}

		level := app.logLevel
		if level == "" {
			if env := os.Getenv("BIOS_LOG_LEVEL"); env != "" {
				level = env
			} else {
				level = app.settings.GetLogLevel()
			}
		}
		if err := util.SetLogLevel(level); err != nil {
			util.Warnf("invalid log level %q, keeping default: %v", level, err)
		}

		return nil
	},
	RunE: runWorker,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&app.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&app.busEndpoint, "bus-endpoint", "", "Message bus endpoint (e.g. redis host:port)")
	flags.StringVar(&app.sensorStream, "sensor-stream", "", "Bus stream carrying raw sensor readings")
	flags.StringVar(&app.metricsStream, "metrics-stream", "", "Bus stream derived metrics are published to")
	flags.BoolVar(&app.askBusPasswd, "ask-bus-password", false, "Prompt for a bus auth password (no echo) and use it as the envelope MAC secret")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfgPath := args[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var busSecret []byte
	if app.askBusPasswd {
		fmt.Fprint(os.Stderr, "Bus password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading bus password: %w", err)
		}
		busSecret = pw
	}

	client := bus.NewRedisBus()
	if busSecret != nil {
		client.SetAuthSecret(busSecret)
	}

	w := worker.New(client, agentName+"-"+cfgPath)
	if err := w.Connect(ctx, app.busEndpoint, app.metricsStream); err != nil {
		return err
	}
	if err := w.Load(cfgPath, app.sensorStream); err != nil {
		return fmt.Errorf("loading definition %q: %w", cfgPath, err)
	}

	commands := make(chan []string, 1)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		util.Info("received shutdown signal")
		commands <- []string{"$TERM"}
	}()

	return w.Run(ctx, commands, decodeSample)
}

// wireSample is the sensor-reading wire shape: a value, an optional
// timestamp (wall clock is used when absent), and the reading's TTL in
// seconds.
type wireSample struct {
	Value     float64    `json:"value"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	TTLSec    float64    `json:"ttl_sec"`
}

func decodeSample(msg bus.Message) (worker.Sample, error) {
	if len(msg.Frames) == 0 {
		return worker.Sample{}, fmt.Errorf("sensor reading has no frames")
	}
	var ws wireSample
	if err := json.Unmarshal([]byte(msg.Frames[0]), &ws); err != nil {
		return worker.Sample{}, fmt.Errorf("decoding sensor reading: %w", err)
	}
	return worker.Sample{
		Subject:   msg.Subject,
		Value:     ws.Value,
		Timestamp: ws.Timestamp,
		TTL:       time.Duration(ws.TTLSec * float64(time.Second)),
	}, nil
}
