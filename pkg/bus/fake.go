package bus

import (
	"context"
	"fmt"
	"regexp"
	"sync"
)

// fakeSub is one Consumer registration on a broker: a compiled pattern plus
// the channel the owning FakeBus delivers matches onto.
type fakeSub struct {
	re    *regexp.Regexp
	msgCh chan Message
}

// broker is the shared routing table a FakeBus publishes into and
// subscribes from. Tests that need two actors to talk to each other
// (e.g. a Configurator's UnavailableNotifier and a subscriber asserting on
// it) share one broker via NewFakeBusPair.
type broker struct {
	mu   sync.Mutex
	subs map[string][]*fakeSub
}

func newBroker() *broker {
	return &broker{subs: make(map[string][]*fakeSub)}
}

// FakeBus is an in-process Client, fast enough for unit tests that don't
// need a real broker round trip. It honors the same subject-pattern
// filtering contract as RedisBus.
type FakeBus struct {
	b        *broker
	producer string
	msgCh    chan Message
	closed   bool
	mu       sync.Mutex
}

// NewFakeBus creates a fresh, unconnected FakeBus with its own private
// broker — a Publish on it is only visible to Consumers registered on the
// same instance. Use NewFakeBusPair to let two actors see each other.
func NewFakeBus() *FakeBus {
	return &FakeBus{b: newBroker(), msgCh: make(chan Message, 256)}
}

// NewFakeBusPair returns two FakeBus instances sharing one broker, so a
// Publish on one is visible to a matching Consumer on the other.
func NewFakeBusPair() (*FakeBus, *FakeBus) {
	group := NewFakeBusGroup(2)
	return group[0], group[1]
}

// NewFakeBusGroup returns n FakeBus instances sharing one broker, for
// tests where more than two actors need to see each other's messages.
func NewFakeBusGroup(n int) []*FakeBus {
	b := newBroker()
	group := make([]*FakeBus, n)
	for i := range group {
		group[i] = &FakeBus{b: b, msgCh: make(chan Message, 256)}
	}
	return group
}

func (f *FakeBus) Connect(ctx context.Context, endpoint, agentName string) error {
	return nil
}

func (f *FakeBus) Producer(stream string) error {
	f.producer = stream
	return nil
}

func (f *FakeBus) Consumer(stream, pattern string) error {
	re, err := CompilePattern(pattern)
	if err != nil {
		return err
	}
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	f.b.subs[stream] = append(f.b.subs[stream], &fakeSub{re: re, msgCh: f.msgCh})
	return nil
}

func (f *FakeBus) Publish(ctx context.Context, subject string, frames ...string) error {
	if f.producer == "" {
		return fmt.Errorf("no producer stream set")
	}
	f.b.mu.Lock()
	subs := append([]*fakeSub(nil), f.b.subs[f.producer]...)
	f.b.mu.Unlock()

	msg := Message{Subject: subject, Frames: append([]string(nil), frames...)}
	for _, sub := range subs {
		if sub.re.MatchString(subject) {
			sub.msgCh <- msg
		}
	}
	return nil
}

func (f *FakeBus) Messages() <-chan Message {
	return f.msgCh
}

func (f *FakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.msgCh)
	return nil
}
