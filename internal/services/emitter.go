package services

import (
	"context"
	"time"

	"github.com/yungbote/sparring-backend/internal/jobs/progress"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
	"github.com/yungbote/sparring-backend/internal/realtime"
	"github.com/yungbote/sparring-backend/internal/realtime/bus"
)

// Emitter delivers realtime messages to subscribed clients.
type Emitter interface {
	Emit(ctx context.Context, msg realtime.SSEMessage)
}

type HubEmitter struct{ Hub *realtime.SSEHub }

func (e *HubEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	e.Hub.Broadcast(msg)
}

// BusEmitter publishes through the cross-instance bus; the bus forwarder
// feeds every instance's hub, including this one.
type BusEmitter struct {
	Bus bus.Bus
	Log *logger.Logger
}

func (e *BusEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	if err := e.Bus.Publish(ctx, msg); err != nil && e.Log != nil {
		e.Log.Warn("realtime publish failed", "channel", msg.Channel, "event", msg.Event, "error", err)
	}
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, realtime.SSEMessage) {}

func emitterOrNop(e Emitter) Emitter {
	if e == nil {
		return nopEmitter{}
	}
	return e
}

// ProgressSink forwards prep progress events to the session's prep channel.
type ProgressSink struct {
	Emitter Emitter
}

func (s *ProgressSink) Emit(ev progress.Event) {
	if s == nil || s.Emitter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Emitter.Emit(ctx, realtime.SSEMessage{
		Channel: realtime.PrepChannel(ev.SessionID),
		Event:   realtime.SSEEventPrepProgress,
		Data:    ev,
	})
}
