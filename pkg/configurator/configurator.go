// Package configurator implements the control loop that glues the
// AssetStore to the bus and the filesystem: ingesting asset events,
// deciding when to regenerate composite-metric definitions, and
// publishing unavailability notifications for topics a regeneration drops.
package configurator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fty-metrics/composite/pkg/asset"
	"github.com/fty-metrics/composite/pkg/assetstore"
	"github.com/fty-metrics/composite/pkg/bus"
	"github.com/fty-metrics/composite/pkg/configemitter"
	"github.com/fty-metrics/composite/pkg/notifier"
	"github.com/fty-metrics/composite/pkg/servicectl"
	"github.com/fty-metrics/composite/pkg/util"
)

// State is the configurator's position in its initial→connected→running
// lifecycle.
type State int

const (
	StateInitial State = iota
	StateConnected
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	default:
		return "initial"
	}
}

// DefaultIdleTimeout is the suggested idle-tick period between 30 and 60
// seconds.
const DefaultIdleTimeout = 30 * time.Second

// assetsStream is the default name of the stream asset change events arrive
// on. The stream actually consumed is the one named in the CONSUMER command.
const assetsStream = "assets"

// cfgFilePattern matches the top-level-only ".+\.cfg" files regenerate
// removes before re-emitting.
var cfgFilePattern = regexp.MustCompile(`.+\.cfg$`)

// Configurator is the configurator actor: one bus client, one AssetStore,
// driven by a command channel and the bus's asset-event channel. Not safe
// for concurrent use — it is a single cooperative event loop.
type Configurator struct {
	client      bus.Client
	store       *assetstore.AssetStore
	svc         *servicectl.ServiceController
	notify      *notifier.UnavailableNotifier
	portAliases map[string]string

	state       State
	cfgDir      string
	stateFile   string
	propagate   bool
	dirty       bool
	idleTimeout time.Duration
}

// New constructs a Configurator in its initial state. client must not yet
// be connected; Configurator.HandleCommand("CONNECT", ...) performs that.
func New(client bus.Client, svc *servicectl.ServiceController, portAliases map[string]string) *Configurator {
	return &Configurator{
		client:      client,
		svc:         svc,
		portAliases: portAliases,
		store:       assetstore.New(portAliases),
		idleTimeout: DefaultIdleTimeout,
	}
}

// State returns the configurator's current lifecycle state.
func (c *Configurator) State() State {
	return c.state
}

// SetIdleTimeout overrides DefaultIdleTimeout, for tests that want a fast loop.
func (c *Configurator) SetIdleTimeout(d time.Duration) {
	c.idleTimeout = d
}

// HandleCommand decodes and applies one multi-frame control message,
// returning the handler's exit code: all successful handlers return 0;
// "$TERM" returns 1. Commands with too few frames are logged and ignored
// without changing state.
func (c *Configurator) HandleCommand(ctx context.Context, frames []string) int {
	if len(frames) == 0 {
		util.Warn("received empty control message, ignoring")
		return 0
	}

	switch frames[0] {
	case "$TERM":
		c.shutdown(ctx)
		return 1

	case "CONNECT":
		if len(frames) < 3 {
			util.Warnf("CONNECT missing mandatory frames (endpoint, agent_name), got %v", frames)
			return 0
		}
		if err := c.client.Connect(ctx, frames[1], frames[2]); err != nil {
			util.Errorf("CONNECT failed: %v", err)
			return 0
		}
		c.notify = notifier.New(c.client)
		c.store.SetEndpoint(frames[1])
		if c.state < StateConnected {
			c.state = StateConnected
		}
		return 0

	case "PRODUCER":
		if len(frames) < 2 {
			util.Warnf("PRODUCER missing mandatory frame (stream), got %v", frames)
			return 0
		}
		if err := c.client.Producer(frames[1]); err != nil {
			util.Errorf("PRODUCER failed: %v", err)
		}
		return 0

	case "CONSUMER":
		if len(frames) < 3 {
			util.Warnf("CONSUMER missing mandatory frames (stream, pattern), got %v", frames)
			return 0
		}
		if err := c.client.Consumer(frames[1], frames[2]); err != nil {
			util.Errorf("CONSUMER failed: %v", err)
			return 0
		}
		if c.state >= StateConnected {
			c.state = StateRunning
		}
		return 0

	case "STATE_FILE":
		if len(frames) < 2 {
			util.Warnf("STATE_FILE missing mandatory frame (path), got %v", frames)
			return 0
		}
		if err := assetstore.ValidateStateFilePath(frames[1]); err != nil {
			util.Errorf("STATE_FILE rejected: %v", err)
			return 0
		}
		c.stateFile = frames[1]
		return 0

	case "CFG_DIRECTORY":
		if len(frames) < 2 {
			util.Warnf("CFG_DIRECTORY missing mandatory frame (path), got %v", frames)
			return 0
		}
		if err := assetstore.ValidateConfigDir(frames[1]); err != nil {
			util.Errorf("CFG_DIRECTORY rejected: %v", err)
			return 0
		}
		c.cfgDir = frames[1]
		return 0

	case "LOAD":
		if c.stateFile == "" {
			util.Warn("LOAD requested with no STATE_FILE configured, ignoring")
			return 0
		}
		loaded, err := assetstore.Load(c.stateFile, c.portAliases)
		if err != nil {
			util.Errorf("LOAD failed: %v", err)
			return 0
		}
		c.store = loaded
		c.dirty = true
		return 0

	case "IS_PROPAGATION_NEEDED":
		if len(frames) < 2 {
			util.Warnf("IS_PROPAGATION_NEEDED missing mandatory frame (bool), got %v", frames)
			return 0
		}
		v, err := strconv.ParseBool(frames[1])
		if err != nil {
			util.Warnf("IS_PROPAGATION_NEEDED: invalid bool %q", frames[1])
			return 0
		}
		c.propagate = v
		return 0

	default:
		util.Warnf("unknown control command %q, ignoring", frames[0])
		return 0
	}
}

func (c *Configurator) shutdown(ctx context.Context) {
	if c.stateFile != "" {
		if err := c.store.Save(c.stateFile); err != nil {
			util.Errorf("failed to save state on shutdown: %v", err)
		}
	}
	if err := c.client.Close(); err != nil {
		util.Errorf("failed to close bus client on shutdown: %v", err)
	}
}

// HandleAssetEvent applies one decoded asset record to the AssetStore,
// marking the configurator dirty when the store now reports
// reconfig_pending. Records arriving before the running state are ignored.
func (c *Configurator) HandleAssetEvent(rec *asset.Record) {
	if c.state != StateRunning {
		return
	}
	c.store.Apply(rec)
	if c.store.ReconfigPending() {
		c.dirty = true
	}
}

// Dirty reports whether an idle tick should trigger regeneration.
func (c *Configurator) Dirty() bool {
	return c.dirty
}

// IdleTimeout returns the configured idle-tick period.
func (c *Configurator) IdleTimeout() time.Duration {
	return c.idleTimeout
}

// Store exposes the underlying AssetStore, primarily for tests.
func (c *Configurator) Store() *assetstore.AssetStore {
	return c.store
}

// Regenerate runs the full idle-tick regeneration algorithm: remove the
// current on-disk configs and services, reassign sensors, re-emit a
// definition set, and publish unavailability notifications for any topic
// that dropped out.
func (c *Configurator) Regenerate(ctx context.Context) error {
	prev := c.store.ProducedMetrics()

	if err := c.removeCurrentConfigs(ctx); err != nil {
		util.Errorf("regeneration aborted during cleanup: %v", err)
		return err
	}

	c.store.Reassign(c.propagate)

	curr := c.emitAll(ctx)

	for _, topic := range setDifference(prev, curr) {
		if c.notify != nil {
			if err := c.notify.Notify(ctx, topic); err != nil {
				util.Errorf("failed to notify unavailability of %q: %v", topic, err)
			}
		}
	}

	c.store.SetProducedMetrics(curr)
	c.dirty = false
	return nil
}

func (c *Configurator) removeCurrentConfigs(ctx context.Context) error {
	if c.cfgDir == "" {
		return nil
	}
	entries, err := os.ReadDir(c.cfgDir)
	if err != nil {
		return fmt.Errorf("listing config directory %q: %w", c.cfgDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !cfgFilePattern.MatchString(entry.Name()) {
			continue
		}
		instance := strings.TrimSuffix(entry.Name(), ".cfg")
		service := "composite-metrics@" + instance
		if c.svc != nil {
			c.svc.Stop(ctx, service)
			c.svc.Disable(ctx, service)
		}
		if err := os.Remove(filepath.Join(c.cfgDir, entry.Name())); err != nil {
			return fmt.Errorf("removing stale config %q: %w", entry.Name(), err)
		}
	}
	return nil
}

func (c *Configurator) emitAll(ctx context.Context) []string {
	curr := make(map[string]struct{})
	for _, name := range c.store.Names() {
		rec, ok := c.store.Asset(name)
		if !ok || !rec.Kind.IsContainer() {
			continue
		}

		var functions []*string
		if rec.Kind == asset.KindRack {
			input, output := "input", "output"
			functions = []*string{&input, &output}
		} else {
			functions = []*string{nil}
		}

		for _, fn := range functions {
			defs, err := configemitter.Emit(c.cfgDir, name, fn, c.store)
			if err != nil {
				util.WithContainer(name).Errorf("emit failed: %v", err)
				continue
			}
			for _, def := range defs {
				if c.svc != nil {
					c.svc.Enable(ctx, def.ServiceName)
					c.svc.Start(ctx, def.ServiceName)
				}
				curr[def.OutputTopic] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(curr))
	for topic := range curr {
		out = append(out, topic)
	}
	return out
}

func setDifference(prev, curr []string) []string {
	currSet := make(map[string]struct{}, len(curr))
	for _, t := range curr {
		currSet[t] = struct{}{}
	}
	var out []string
	for _, t := range prev {
		if _, ok := currSet[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

// Run drives the main event loop: commands, asset events, and idle ticks,
// until ctx is cancelled or a "$TERM" command is handled. decode turns each
// message received from the bus client into an asset record for
// HandleAssetEvent; a message that fails to decode is logged and dropped.
func (c *Configurator) Run(ctx context.Context, commands <-chan []string, decode func(bus.Message) (*asset.Record, error)) error {
	timer := time.NewTimer(c.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frames, ok := <-commands:
			if !ok {
				return nil
			}
			if rc := c.HandleCommand(ctx, frames); rc == 1 {
				return nil
			}
			resetTimer(timer, c.idleTimeout)

		case msg, ok := <-c.client.Messages():
			if !ok {
				return nil
			}
			rec, err := decode(msg)
			if err != nil {
				util.Warnf("decode failure on bus message: %v", err)
				continue
			}
			c.HandleAssetEvent(rec)
			resetTimer(timer, c.idleTimeout)

		case <-timer.C:
			if c.dirty {
				if err := c.Regenerate(ctx); err != nil {
					util.Errorf("regenerate failed, will retry next idle tick: %v", err)
				}
			}
			timer.Reset(c.idleTimeout)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// AssetsStreamName is the default assets stream name; the configurator
// consumes whichever stream its CONSUMER command names.
const AssetsStreamName = assetsStream
