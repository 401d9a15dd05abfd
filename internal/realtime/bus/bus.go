package bus

import (
	"context"

	"github.com/yungbote/nort-backend/internal/realtime"
)

// Bus fans events out across nodes. Every node runs a forwarder that hands received events to
// its local hub.
type Bus interface {
	Publish(ctx context.Context, ev realtime.Event) error
	StartForwarder(ctx context.Context, onEvent func(ev realtime.Event)) error
	Close() error
}
