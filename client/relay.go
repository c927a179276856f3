package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nmtri/voicebridge/model"
	"github.com/rs/zerolog"
)

const (
	defaultConnectAttempts  = 5
	defaultConnectDelay     = time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultJoinTimeout      = 10 * time.Second
	defaultWriteDeadline    = 5 * time.Second
)

var (
	// ErrTransportUnavailable means the relay could not be reached after
	// all connect attempts. Callers fall back to local presence sync.
	ErrTransportUnavailable = errors.New("relay transport unavailable")

	ErrJoinTimeout = errors.New("no room-joined response from relay")
	ErrClosed      = errors.New("relay connection closed")
)

type Config struct {
	URL             string
	Logger          *zerolog.Logger
	ConnectAttempts int
	ConnectDelay    time.Duration
}

// Relay is the client side of the relay transport. It implements the room
// transport contract used by the session controller.
type Relay struct {
	logger zerolog.Logger

	mx       sync.Mutex
	conn     *websocket.Conn
	roomCode string

	events chan model.Event
	joined chan model.RoomJoinedPayload
	done   chan struct{}
	once   sync.Once
}

// Dial connects to the relay server, retrying a bounded number of times
// with a fixed delay. Exhaustion surfaces ErrTransportUnavailable.
func Dial(ctx context.Context, cfg Config) (*Relay, error) {
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = defaultConnectAttempts
	}
	delay := cfg.ConnectDelay
	if delay <= 0 {
		delay = defaultConnectDelay
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "relay-client").Logger()
	}

	dialer := &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
		if err == nil {
			r := &Relay{
				logger: logger,
				conn:   conn,
				events: make(chan model.Event, 64),
				joined: make(chan model.RoomJoinedPayload, 1),
				done:   make(chan struct{}),
			}
			go r.readLoop()
			logger.Debug().Str("url", cfg.URL).Int("attempt", attempt).Msg("connected to relay")
			return r, nil
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt).Msg("relay connect failed")

		if attempt == attempts {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Join(ErrTransportUnavailable, ctx.Err())
		case <-t.C:
		}
	}
	return nil, errors.Join(ErrTransportUnavailable, lastErr)
}

func (r *Relay) readLoop() {
	defer close(r.done)
	for {
		var ev model.Event
		if err := r.conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Debug().Err(err).Msg("relay connection closed")
			} else {
				r.logger.Warn().Err(err).Msg("relay read failed")
			}
			return
		}
		if ev.Type == model.EventRoomJoined {
			var p model.RoomJoinedPayload
			if err := ev.Decode(&p); err != nil {
				r.logger.Error().Err(err).Msg("malformed room-joined payload")
				continue
			}
			select {
			case r.joined <- p:
			default:
			}
			continue
		}
		select {
		case r.events <- ev:
		default:
			r.logger.Warn().Str("type", ev.Type).Msg("event buffer full, dropping")
		}
	}
}

func (r *Relay) write(ev model.Event) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if err := r.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
		return err
	}
	return r.conn.WriteJSON(ev)
}

// Join sends join-room and waits for the room-joined response carrying the
// full participant list.
func (r *Relay) Join(ctx context.Context, roomCode, userName, userLanguage string) ([]model.Participant, error) {
	code := model.NormalizeRoomCode(roomCode)
	ev, err := model.NewEvent(model.EventJoinRoom, model.JoinRoomPayload{
		RoomCode:     code,
		UserName:     userName,
		UserLanguage: userLanguage,
	})
	if err != nil {
		return nil, err
	}
	if err = r.write(ev); err != nil {
		return nil, errors.Join(ErrTransportUnavailable, err)
	}

	t := time.NewTimer(defaultJoinTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, ErrClosed
	case <-t.C:
		return nil, ErrJoinTimeout
	case p := <-r.joined:
		r.mx.Lock()
		r.roomCode = p.RoomCode
		r.mx.Unlock()
		return p.Participants, nil
	}
}

func (r *Relay) Send(_ context.Context, msg model.Message) error {
	r.mx.Lock()
	code := r.roomCode
	r.mx.Unlock()

	ev, err := model.NewEvent(model.EventSendMessage, model.MessagePayload{
		RoomCode: code,
		Message:  msg,
	})
	if err != nil {
		return err
	}
	return r.write(ev)
}

func (r *Relay) Leave(_ context.Context) error {
	r.mx.Lock()
	code := r.roomCode
	r.roomCode = ""
	r.mx.Unlock()
	if code == "" {
		return nil
	}

	ev, err := model.NewEvent(model.EventLeaveRoom, model.LeaveRoomPayload{RoomCode: code})
	if err != nil {
		return err
	}
	return r.write(ev)
}

func (r *Relay) Events() <-chan model.Event {
	return r.events
}

func (r *Relay) Close() error {
	var err error
	r.once.Do(func() {
		r.mx.Lock()
		wErr := r.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline))
		if wErr == nil {
			_ = r.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}
		err = r.conn.Close()
		r.mx.Unlock()
	})
	return err
}
