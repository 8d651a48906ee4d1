// Package worker implements the compute-worker runtime: one long-lived
// actor per composite-metric definition, subscribing to its input topics,
// caching TTL-stamped readings, evaluating its expression on every update,
// and publishing the derived metric.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fty-metrics/composite/pkg/bus"
	"github.com/fty-metrics/composite/pkg/eval"
	"github.com/fty-metrics/composite/pkg/util"
)

// derivedTTL is the fixed TTL a worker stamps on every metric it emits.
const derivedTTL = 300 * time.Second

// cfgDocument mirrors pkg/configemitter's on-disk shape: input topic
// literals plus the expression source to evaluate.
type cfgDocument struct {
	In         []string `json:"in"`
	Evaluation string   `json:"evaluation"`
}

// cacheEntry is one cached sensor reading: a value and the instant it
// expires.
type cacheEntry struct {
	value      float64
	validUntil time.Time
}

// Sample is one decoded inbound sensor-metric message. Timestamp is nil
// when the message carried none, in which case the worker uses wall clock.
type Sample struct {
	Subject   string
	Value     float64
	Timestamp *time.Time
	TTL       time.Duration
}

// Decoder turns a raw bus message into a Sample. The wire encoding is an
// external collaborator; callers supply the decode function matching their
// deployment's encoding.
type Decoder func(bus.Message) (Sample, error)

// ComputeWorker is one per-definition actor: its own bus client, its own
// cache, no shared state with any other worker.
type ComputeWorker struct {
	client     bus.Client
	name       string
	cache      map[string]cacheEntry
	inputs     []string
	evaluation string
}

// New constructs an unconnected ComputeWorker identified by name.
func New(client bus.Client, name string) *ComputeWorker {
	return &ComputeWorker{client: client, name: name, cache: make(map[string]cacheEntry)}
}

// Connect establishes the bus client and becomes producer on
// metricsStream, the stream derived metrics are published to.
func (w *ComputeWorker) Connect(ctx context.Context, endpoint, metricsStream string) error {
	if err := w.client.Connect(ctx, endpoint, w.name); err != nil {
		return fmt.Errorf("connecting worker %q: %w", w.name, err)
	}
	if err := w.client.Producer(metricsStream); err != nil {
		return fmt.Errorf("setting producer stream for worker %q: %w", w.name, err)
	}
	return nil
}

// Load parses the definition file at cfgPath, pre-seeds an already-expired
// cache entry for each input, and subscribes to each on sensorStream with a
// pattern anchored exactly to that topic.
func (w *ComputeWorker) Load(cfgPath, sensorStream string) error {
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("reading definition file %q: %w", cfgPath, err)
	}
	var doc cfgDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing definition file %q: %w", cfgPath, err)
	}

	w.inputs = doc.In
	w.evaluation = doc.Evaluation

	expired := time.Unix(0, 0)
	for _, topic := range w.inputs {
		w.cache[topic] = cacheEntry{validUntil: expired}
		if err := w.client.Consumer(sensorStream, bus.AnchorLiteral(topic)); err != nil {
			return fmt.Errorf("subscribing to input %q: %w", topic, err)
		}
	}
	return nil
}

// HandleMetric updates the cache with one decoded sample and re-evaluates
// the expression, publishing a derived metric on success. Evaluation and
// publish errors are logged, never fatal.
func (w *ComputeWorker) HandleMetric(ctx context.Context, sample Sample) {
	validUntil := sample.Timestamp
	var until time.Time
	if validUntil != nil {
		until = validUntil.Add(sample.TTL)
	} else {
		until = time.Now().Add(sample.TTL)
	}
	w.cache[sample.Subject] = cacheEntry{value: sample.Value, validUntil: until}

	w.reevaluate(ctx)
}

func (w *ComputeWorker) reevaluate(ctx context.Context) {
	now := time.Now()
	env := make(map[string]float64, len(w.cache))
	for topic, entry := range w.cache {
		if entry.validUntil.After(now) {
			env[topic] = entry.value
		}
	}

	result, err := eval.Evaluate(w.evaluation, env)
	if err != nil {
		util.WithField("worker", w.name).Warnf("evaluation failed: %v", err)
		return
	}

	idx := strings.LastIndex(result.Topic, "@")
	if idx < 0 {
		util.WithField("worker", w.name).Warnf("evaluator result topic %q has no '@', dropping", result.Topic)
		return
	}
	quantity, element := result.Topic[:idx], result.Topic[idx+1:]
	valueStr := strconv.FormatFloat(result.Value, 'f', 2, 64)

	if err := w.client.Publish(ctx, result.Topic, quantity, element, valueStr, result.Unit, strconv.Itoa(int(derivedTTL.Seconds()))); err != nil {
		util.WithField("worker", w.name).Warnf("bus send failed: %v", err)
	}
}

// Run drives the worker's event loop: commands ("$TERM" exits) and bus
// metrics, until ctx is cancelled.
func (w *ComputeWorker) Run(ctx context.Context, commands <-chan []string, decode Decoder) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frames, ok := <-commands:
			if !ok {
				return nil
			}
			if len(frames) > 0 && frames[0] == "$TERM" {
				return w.client.Close()
			}

		case msg, ok := <-w.client.Messages():
			if !ok {
				return nil
			}
			sample, err := decode(msg)
			if err != nil {
				util.WithField("worker", w.name).Warnf("decode failure on bus message: %v", err)
				continue
			}
			w.HandleMetric(ctx, sample)
		}
	}
}
