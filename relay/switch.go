package relay

import (
	"context"
	"sync"
	"time"

	"github.com/nmtri/voicebridge/model"
	"github.com/rs/zerolog"
)

const defaultFwdTimeout = time.Second

// Switch maintains per-room forwarding tables of connected wires and fans
// events out to them. A dead endpoint can delay a broadcast by at most the
// forward timeout.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	fwd    map[string]map[string]model.Wire
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		fwd:    make(map[string]map[string]model.Wire),
	}
}

func (sw *Switch) Connect(roomCode, id string, wire model.Wire) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("roomCode", roomCode).
			Str("id", id).
			Msg("endpoint connected")
	}()

	room, ok := sw.fwd[roomCode]
	if !ok {
		room = make(map[string]model.Wire)
		sw.fwd[roomCode] = room
	}
	room[id] = wire
}

func (sw *Switch) Disconnect(roomCode, id string) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("roomCode", roomCode).
			Str("id", id).
			Msg("endpoint disconnected")
	}()

	room, ok := sw.fwd[roomCode]
	if ok {
		delete(room, id)
		if len(room) == 0 {
			delete(sw.fwd, roomCode)
		}
	}
}

// Broadcast forwards the event to every endpoint in the room except the one
// identified by except. An empty except reaches everyone.
func (sw *Switch) Broadcast(ctx context.Context, roomCode string, ev model.Event, except string) {
	sw.mx.RLock()
	room := sw.fwd[roomCode]
	wires := make(map[string]model.Wire, len(room))
	for id, wire := range room {
		wires[id] = wire
	}
	sw.mx.RUnlock()

	var sent bool
	for id, wire := range wires {
		if id == except {
			continue
		}
		ok, canceled := sw.send(ctx, ev, id, wire.TX)
		if canceled {
			return
		}
		if ok {
			sent = true
		}
	}
	if !sent {
		sw.logger.Debug().
			Str("roomCode", roomCode).
			Str("type", ev.Type).
			Msg("broadcast did not reach anyone")
	}
}

// Send forwards the event to a single endpoint.
func (sw *Switch) Send(ctx context.Context, roomCode, id string, ev model.Event) bool {
	sw.mx.RLock()
	wire, ok := sw.fwd[roomCode][id]
	sw.mx.RUnlock()
	if !ok {
		sw.logger.Debug().
			Str("roomCode", roomCode).
			Str("id", id).
			Msg("cannot forward, endpoint not found")
		return false
	}
	sent, _ := sw.send(ctx, ev, id, wire.TX)
	return sent
}

func (sw *Switch) send(ctx context.Context, ev model.Event, id string, tx chan<- model.Event) (bool, bool) {
	var sent, canceled bool
	t := time.NewTimer(defaultFwdTimeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-t.C:
		sw.logger.Error().Str("id", id).Str("type", ev.Type).Msg("dead endpoint")
	case tx <- ev:
		sent = true
	}
	t.Stop()
	return sent, canceled
}
