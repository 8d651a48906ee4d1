package bus

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/blake2b"

	"github.com/fty-metrics/composite/pkg/util"
)

// envelope is the wire shape published on a Redis Pub/Sub channel. Redis
// channel values are opaque strings, so this envelope carries the subject
// plus the multi-frame payload actors exchange. MAC is set only when the
// bus was configured with an auth secret (SetAuthSecret); it authenticates
// Subject+Frames against tampering or cross-deployment bleed on a shared
// Redis instance.
type envelope struct {
	Subject string   `json:"subject"`
	Frames  []string `json:"frames"`
	MAC     string   `json:"mac,omitempty"`
}

type subscription struct {
	stream string
	re     *regexp.Regexp
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// RedisBus implements Client over a Redis Pub/Sub channel per stream,
// wrapping *redis.Client behind a typed, purpose-built accessor rather than
// exposing it raw.
type RedisBus struct {
	client    *redis.Client
	agentName string
	producer  string
	secret    []byte

	mu   sync.Mutex
	subs []*subscription

	msgCh  chan Message
	closed bool
}

// NewRedisBus constructs an unconnected RedisBus; call Connect before use.
func NewRedisBus() *RedisBus {
	return &RedisBus{msgCh: make(chan Message, 256)}
}

// SetAuthSecret enables envelope authentication: every Publish attaches a
// keyed MAC over the subject and frames, and every received envelope is
// verified against the same secret before being delivered. Pass nil to
// disable (the default).
func (b *RedisBus) SetAuthSecret(secret []byte) {
	b.secret = secret
}

func (b *RedisBus) sign(subject string, frames []string) string {
	if b.secret == nil {
		return ""
	}
	mac, err := blake2b.New256(b.secret)
	if err != nil {
		util.Errorf("initializing envelope MAC: %v", err)
		return ""
	}
	mac.Write([]byte(subject))
	mac.Write([]byte{0})
	mac.Write([]byte(strings.Join(frames, "\x00")))
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *RedisBus) Connect(ctx context.Context, endpoint, agentName string) error {
	b.client = redis.NewClient(&redis.Options{Addr: endpoint})
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting bus client to %q: %w", endpoint, err)
	}
	b.agentName = agentName
	return nil
}

func (b *RedisBus) Producer(stream string) error {
	if b.client == nil {
		return fmt.Errorf("bus not connected")
	}
	b.producer = stream
	return nil
}

func (b *RedisBus) Consumer(stream, pattern string) error {
	if b.client == nil {
		return fmt.Errorf("bus not connected")
	}
	re, err := CompilePattern(pattern)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, stream)
	sub := &subscription{stream: stream, re: re, pubsub: pubsub, cancel: cancel}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go b.pump(ctx, sub)
	return nil
}

func (b *RedisBus) pump(ctx context.Context, sub *subscription) {
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(raw.Payload), &env); err != nil {
				util.WithTopic(sub.stream).Warnf("decode failure on bus message: %v", err)
				continue
			}
			if b.secret != nil && subtle.ConstantTimeCompare([]byte(env.MAC), []byte(b.sign(env.Subject, env.Frames))) != 1 {
				util.WithTopic(env.Subject).Warn("envelope MAC mismatch, dropping")
				continue
			}
			if !sub.re.MatchString(env.Subject) {
				continue
			}
			select {
			case b.msgCh <- Message{Subject: env.Subject, Frames: env.Frames}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *RedisBus) Publish(ctx context.Context, subject string, frames ...string) error {
	if b.client == nil {
		return fmt.Errorf("bus not connected")
	}
	if b.producer == "" {
		return fmt.Errorf("no producer stream set")
	}
	data, err := json.Marshal(envelope{Subject: subject, Frames: frames, MAC: b.sign(subject, frames)})
	if err != nil {
		return fmt.Errorf("encoding message for subject %q: %w", subject, err)
	}
	if err := b.client.Publish(ctx, b.producer, data).Err(); err != nil {
		return fmt.Errorf("publishing to %q: %w", b.producer, err)
	}
	return nil
}

func (b *RedisBus) Messages() <-chan Message {
	return b.msgCh
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.cancel()
		sub.pubsub.Close()
	}
	close(b.msgCh)
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
