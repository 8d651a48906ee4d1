// Package notifier publishes "metric went away" notifications when a
// regeneration stops producing a topic that was previously live.
package notifier

import (
	"context"
	"fmt"

	"github.com/fty-metrics/composite/pkg/bus"
)

// unavailableFrame is the fixed first frame of an unavailability message.
const unavailableFrame = "METRICUNAVAILABLE"

// Subject is the fixed subject unavailability notifications publish on.
const Subject = "metric_topic"

// UnavailableNotifier publishes two-frame unavailability notifications on a
// bus producer stream. Best-effort: no acknowledgement is awaited.
type UnavailableNotifier struct {
	client bus.Client
}

// New wraps client. client must already have called Producer on the stream
// notifications should go out on.
func New(client bus.Client) *UnavailableNotifier {
	return &UnavailableNotifier{client: client}
}

// Notify publishes the two-frame message {METRICUNAVAILABLE, topic} on
// Subject. A publish failure is logged by the caller via the returned
// error; it never blocks the rest of a regeneration.
func (n *UnavailableNotifier) Notify(ctx context.Context, topic string) error {
	if err := n.client.Publish(ctx, Subject, unavailableFrame, topic); err != nil {
		return fmt.Errorf("notifying unavailability of %q: %w", topic, err)
	}
	return nil
}
