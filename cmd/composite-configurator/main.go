// composite-configurator is the control-loop daemon: it watches the assets
// stream, maintains the AssetStore, and regenerates composite-metric
// definitions and systemd service instances on an idle tick.
//
// Flags mirror the bootstrap sequence the configurator actor expects:
// STATE_FILE, CFG_DIRECTORY, LOAD, CONNECT, PRODUCER, CONSUMER. BIOS_LOG_LEVEL
// overrides the log level when --log-level is not given.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fty-metrics/composite/pkg/asset"
	"github.com/fty-metrics/composite/pkg/bus"
	"github.com/fty-metrics/composite/pkg/configurator"
	"github.com/fty-metrics/composite/pkg/servicectl"
	"github.com/fty-metrics/composite/pkg/settings"
	"github.com/fty-metrics/composite/pkg/util"
	"github.com/fty-metrics/composite/pkg/version"
)

const agentName = "composite-configurator"

// App holds CLI state shared across commands.
type App struct {
	stateFile    string
	outputDir    string
	logLevel     string
	busEndpoint  string
	assetsStream string
	notifyStream string
	propagate    bool
	askBusPasswd bool
	idleTimeout  int

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
	Use:           agentName,
	Short:         "Composite-metric topology and configuration daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		app.settings, err = settings.Load()
		if err != nil {
			util.Warnf("could not load settings: %v", err)
			app.settings = &settings.Settings{}
		}

		if app.stateFile == "" {
			app.stateFile = app.settings.GetStateFile()
		}
		if app.outputDir == "" {
			app.outputDir = app.settings.GetOutputDir()
		}
		if app.assetsStream == "" {
			app.assetsStream = app.settings.GetAssetsStream()
		}
		if app.busEndpoint == "" {
			app.busEndpoint = app.settings.BusEndpoint
		}

		// log_level cascade: default < BIOS_LOG_LEVEL env < --log-level flag.
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
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&app.stateFile, "state-file", "s", "", "AssetStore snapshot path")
	flags.StringVarP(&app.outputDir, "output-dir", "o", "", "Composite-metric config output directory")
	flags.StringVarP(&app.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&app.busEndpoint, "bus-endpoint", "", "Message bus endpoint (e.g. redis host:port)")
	flags.StringVar(&app.assetsStream, "assets-stream", "", "Bus stream carrying asset change events")
	flags.StringVar(&app.notifyStream, "notify-stream", "_METRICS_UNAVAILABLE", "Bus stream unavailability notifications publish on")
	flags.BoolVar(&app.propagate, "propagate", true, "Propagate sensor assignment up the container hierarchy")
	flags.BoolVar(&app.askBusPasswd, "ask-bus-password", false, "Prompt for a bus auth password (no echo) and use it as the envelope MAC secret")
	flags.IntVar(&app.idleTimeout, "idle-timeout", int(configurator.DefaultIdleTimeout.Seconds()), "Idle-tick period, in seconds")

	rootCmd.AddCommand(versionCmd, runCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configurator daemon until terminated",
	RunE:  runConfigurator,
}

func runConfigurator(cmd *cobra.Command, args []string) error {
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

	svc := servicectl.New("systemctl")
	c := configurator.New(client, svc, app.settings.PortAliases)
	c.SetIdleTimeout(time.Duration(app.idleTimeout) * time.Second)

	commands := make(chan []string, 8)
	commands <- []string{"STATE_FILE", app.stateFile}
	commands <- []string{"CFG_DIRECTORY", app.outputDir}
	commands <- []string{"LOAD"}
	commands <- []string{"CONNECT", app.busEndpoint, agentName}
	commands <- []string{"PRODUCER", app.notifyStream}
	commands <- []string{"CONSUMER", app.assetsStream, ".*"}
	commands <- []string{"IS_PROPAGATION_NEEDED", strconv.FormatBool(app.propagate)}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		util.Info("received shutdown signal")
		commands <- []string{"$TERM"}
	}()

	return c.Run(ctx, commands, decodeAssetEvent)
}

// decodeAssetEvent parses the single-frame JSON encoding of an asset.Record
// carried on the assets stream.
func decodeAssetEvent(msg bus.Message) (*asset.Record, error) {
	if len(msg.Frames) == 0 {
		return nil, fmt.Errorf("asset event has no frames")
	}
	var rec asset.Record
	if err := json.Unmarshal([]byte(msg.Frames[0]), &rec); err != nil {
		return nil, fmt.Errorf("decoding asset event: %w", err)
	}
	return &rec, nil
}
