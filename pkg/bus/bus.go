// Package bus defines the message-bus client contract the configurator and
// compute workers depend on. The wire encoding and the broker itself are
// external collaborators; this package only fixes the Go-side interface and
// ships one concrete backend (Redis Pub/Sub) plus an in-process fake for
// tests.
package bus

import (
	"context"
	"fmt"
	"regexp"
)

// Message is one inbound frame set, tagged with the subject it arrived on.
type Message struct {
	Subject string
	Frames  []string
}

// Client is the bus contract every actor (Configurator, ComputeWorker)
// depends on. Implementations are not required to be safe for concurrent
// Publish/Subscribe calls from multiple goroutines — each actor owns
// exactly one Client.
type Client interface {
	// Connect establishes the underlying transport and records agentName
	// for diagnostics. Must be called before Producer/Consumer/Publish.
	Connect(ctx context.Context, endpoint, agentName string) error

	// Producer designates stream as the target of subsequent Publish calls.
	Producer(stream string) error

	// Consumer subscribes to stream, filtering inbound messages by pattern
	// (a regular expression matched against the message subject). Matching
	// messages are delivered on the channel returned by Messages.
	Consumer(stream, pattern string) error

	// Publish sends frames on subject to the current producer stream.
	Publish(ctx context.Context, subject string, frames ...string) error

	// Messages returns the channel inbound messages are delivered on. It is
	// closed when Close is called.
	Messages() <-chan Message

	// Close releases the underlying transport. Idempotent.
	Close() error
}

// CompilePattern compiles a subject-matching pattern, as produced by a
// caller anchoring a literal topic with "^"/"$" or passing the catch-all
// ".*".
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling subject pattern %q: %w", pattern, err)
	}
	return re, nil
}

// AnchorLiteral escapes topic as a regex literal and anchors it, producing
// a pattern that matches that exact subject and nothing else.
func AnchorLiteral(topic string) string {
	return "^" + regexp.QuoteMeta(topic) + "$"
}
