package interfaces

import (
	"context"

	"backchannel/pkg/types"
)

// Broker is the publish/subscribe fan-out layer. A published event is
// delivered independently to every subscription of the group, across
// all processes serving connections. Only per-group delivery is
// guaranteed; no total order across groups.
type Broker interface {
	// Publish sends one event to all current subscribers of the group.
	Publish(ctx context.Context, group string, event types.Event) error

	// Subscribe attaches to a single group. Callers subscribing to
	// several groups hold one Subscription per group so that failures
	// tear down independently.
	Subscribe(ctx context.Context, group string) (Subscription, error)
}

// Subscription is one group attachment. Events() is closed after
// Close() returns or when the underlying transport drops.
type Subscription interface {
	Events() <-chan types.Event
	Close() error
}

// RoomGroup names the shared fan-out group carrying a room's chat
// messages.
func RoomGroup(roomName string) string {
	return "room:" + roomName
}

// PersonalGroup names a user's private fan-out group, used only for
// unread-notification pings.
func PersonalGroup(identity string) string {
	return "user:" + identity
}
