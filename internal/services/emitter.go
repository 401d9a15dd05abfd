package services

import (
	"context"

	"github.com/yungbote/nort-backend/internal/pkg/ctxutil"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
	"github.com/yungbote/nort-backend/internal/realtime"
	"github.com/yungbote/nort-backend/internal/realtime/bus"
)

// Emitter hands events to live viewers. Emit never blocks on a failed transport.
type Emitter interface {
	Emit(ctx context.Context, ev realtime.Event)
}

type HubEmitter struct{ Hub *realtime.Hub }

func (e *HubEmitter) Emit(ctx context.Context, ev realtime.Event) {
	e.Hub.Publish(ev.ConversationID, ev)
}

type RedisEmitter struct {
	Bus bus.Bus
	Log *logger.Logger
}

func (e *RedisEmitter) Emit(ctx context.Context, ev realtime.Event) {
	if err := e.Bus.Publish(ctxutil.Default(ctx), ev); err != nil && e.Log != nil {
		e.Log.Warn("Event publish failed", "conversation_id", ev.ConversationID, "type", ev.Type, "error", err)
	}
}
