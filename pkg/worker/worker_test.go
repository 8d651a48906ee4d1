package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fty-metrics/composite/pkg/bus"
	"github.com/fty-metrics/composite/pkg/eval"
)

// testSample is the fixture wire shape decodeFixture expects, standing in
// for the real (external) sensor-metric encoding.
type testSample struct {
	Value     float64    `json:"value"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	TTLSec    float64    `json:"ttl_sec"`
}

func decodeFixture(msg bus.Message) (Sample, error) {
	var ts testSample
	if err := json.Unmarshal([]byte(msg.Frames[0]), &ts); err != nil {
		return Sample{}, err
	}
	return Sample{
		Subject:   msg.Subject,
		Value:     ts.Value,
		Timestamp: ts.Timestamp,
		TTL:       time.Duration(ts.TTLSec * float64(time.Second)),
	}, nil
}

func publishSample(t *testing.T, client *bus.FakeBus, ctx context.Context, subject string, value float64, ttl time.Duration) {
	t.Helper()
	data, err := json.Marshal(testSample{Value: value, TTLSec: ttl.Seconds()})
	if err != nil {
		t.Fatalf("marshal sample: %v", err)
	}
	if err := client.Publish(ctx, subject, string(data)); err != nil {
		t.Fatalf("publish sample: %v", err)
	}
}

func writeCfg(t *testing.T, inputs []string, evaluation string) string {
	t.Helper()
	doc := cfgDocument{In: inputs, Evaluation: evaluation}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal cfg: %v", err)
	}
	path := filepath.Join(t.TempDir(), "def.cfg")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write cfg: %v", err)
	}
	return path
}

func TestWorker_S5_AveragingAcrossTwoInputs(t *testing.T) {
	group := bus.NewFakeBusGroup(3)
	sensorPublisher, workerClient, resultConsumer := group[0], group[1], group[2]
	ctx := context.Background()

	sensorPublisher.Producer("metrics")
	resultConsumer.Consumer("metrics", bus.AnchorLiteral("average.temperature@R1"))

	w := New(workerClient, "worker-1")
	if err := w.Connect(ctx, "ignored", "metrics"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	evaluation := eval.MeanWithOffset("average.temperature@R1", []string{"temperature@TH1", "temperature@TH2"}, 0, "C")
	cfgPath := writeCfg(t, []string{"temperature@TH1", "temperature@TH2"}, evaluation)
	if err := w.Load(cfgPath, "metrics"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	expectEmitted := func(want string) {
		t.Helper()
		select {
		case msg := <-resultConsumer.Messages():
			if len(msg.Frames) < 3 || msg.Frames[2] != want {
				t.Errorf("expected emitted value %q, got frames %v", want, msg.Frames)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for emission of %q", want)
		}
	}

	publishSample(t, sensorPublisher, ctx, "temperature@TH1", 40.0, time.Minute)
	msg := <-workerClient.Messages()
	sample, err := decodeFixture(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	w.HandleMetric(ctx, sample)
	expectEmitted("40.00")

	publishSample(t, sensorPublisher, ctx, "temperature@TH2", 100.0, time.Minute)
	msg = <-workerClient.Messages()
	sample, _ = decodeFixture(msg)
	w.HandleMetric(ctx, sample)
	expectEmitted("70.00")

	publishSample(t, sensorPublisher, ctx, "temperature@TH1", 70.0, time.Minute)
	msg = <-workerClient.Messages()
	sample, _ = decodeFixture(msg)
	w.HandleMetric(ctx, sample)
	expectEmitted("85.00")
}

func TestWorker_S6_TTLExpiry(t *testing.T) {
	group := bus.NewFakeBusGroup(2)
	workerClient, resultConsumer := group[0], group[1]
	ctx := context.Background()

	resultConsumer.Consumer("metrics", bus.AnchorLiteral("average.temperature@R1"))

	w := New(workerClient, "worker-1")
	if err := w.Connect(ctx, "ignored", "metrics"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	evaluation := eval.MeanWithOffset("average.temperature@R1", []string{"temperature@TH1"}, 0, "C")
	cfgPath := writeCfg(t, []string{"temperature@TH1"}, evaluation)
	if err := w.Load(cfgPath, "metrics"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	firstStamp := time.Now()
	w.HandleMetric(ctx, Sample{Subject: "temperature@TH1", Value: 10.0, Timestamp: &firstStamp, TTL: 50 * time.Millisecond})

	select {
	case msg := <-resultConsumer.Messages():
		if len(msg.Frames) < 3 || msg.Frames[2] != "10.00" {
			t.Errorf("expected the first sample (10.00) reflected while still fresh, got %v", msg.Frames)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first emission")
	}

	time.Sleep(100 * time.Millisecond) // let the first sample's TTL lapse

	secondStamp := time.Now()
	w.HandleMetric(ctx, Sample{Subject: "temperature@TH1", Value: 99.0, Timestamp: &secondStamp, TTL: time.Minute})

	select {
	case msg := <-resultConsumer.Messages():
		if len(msg.Frames) < 3 || msg.Frames[2] != "99.00" {
			t.Errorf("expected only the fresh sample (99.00) reflected, got %v", msg.Frames)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second emission")
	}
}

func TestWorker_TermCommandClosesBus(t *testing.T) {
	group := bus.NewFakeBusGroup(1)
	client := group[0]
	w := New(client, "worker-1")
	ctx := context.Background()
	if err := w.Connect(ctx, "ignored", "metrics"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	commands := make(chan []string, 1)
	commands <- []string{"$TERM"}
	if err := w.Run(ctx, commands, decodeFixture); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := <-client.Messages(); ok {
		t.Error("expected bus client closed after $TERM")
	}
}
