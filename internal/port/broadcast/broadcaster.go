// Package broadcast defines the port services use to push delivery progress
// (stage advances, approval changes, sync status) to live subscribers.
package broadcast

import "context"

// Broadcaster fans a typed event out to every connected subscriber. Delivery
// is fire-and-forget: a subscriber that cannot keep up is dropped, never
// blocking the workflow that emitted the event.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
