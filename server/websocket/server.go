package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nmtri/voicebridge/model"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 65536
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var ErrUnexpected = errors.New("unexpected server error")

type (
	// RelayService dispatches decoded client events to the room registry.
	RelayService interface {
		Join(ctx context.Context, roomCode string, p model.Participant, wire model.Wire) ([]model.Participant, error)
		Leave(ctx context.Context, roomCode, id string)
		Disconnect(ctx context.Context, id string)
		Relay(ctx context.Context, roomCode, senderID string, msg model.Message)
	}

	Config struct {
		Logger       *zerolog.Logger
		RelayService RelayService
		ListenAddr   string
	}

	Server struct {
		svc RelayService
		ws  *websocket.Upgrader
		*http.Server

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "relay-server").Logger(),
		svc:    cfg.RelayService,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.relay)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) relay(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	connID := uuid.NewString()
	wire := model.NewWire()

	ctx, cancel := context.WithCancel(context.TODO()) // long-living wire context

	srv.logger.Debug().Str("connID", connID).Msg("client connected")

	go srv.handleWSConn(ctx, cancel, conn, connID, wire)
}

func (srv *Server) handleWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	connID string,
	wire model.Wire,
) {
	wg := &sync.WaitGroup{}

	logger := srv.logger.With().Str("connID", connID).Logger()

	wg.Add(2)
	go func() {
		webSocketReceiver(ctx, wg, conn, wire.RX, &logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, wire.TX, &logger)
		cancel()
	}()

	srv.dispatch(ctx, connID, wire, &logger)

	wg.Wait()
	webSocketCloser(conn, &logger)
	srv.disconnect(connID, &logger)
}

// dispatch interprets decoded client events and drives the registry. Runs
// until the connection context is canceled.
func (srv *Server) dispatch(ctx context.Context, connID string, wire model.Wire, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-wire.RX:
			switch ev.Type {
			case model.EventJoinRoom:
				var p model.JoinRoomPayload
				if err := ev.Decode(&p); err != nil {
					logger.Error().Err(err).Msg("malformed join-room payload")
					continue
				}
				participant := model.Participant{
					ID:       connID,
					Name:     p.UserName,
					Language: p.UserLanguage,
					JoinedAt: time.Now().UnixMilli(),
				}
				if _, err := srv.svc.Join(ctx, p.RoomCode, participant, wire); err != nil {
					logger.Error().Err(err).Str("roomCode", p.RoomCode).Msg("join failed")
				}

			case model.EventSendMessage:
				var p model.MessagePayload
				if err := ev.Decode(&p); err != nil {
					logger.Error().Err(err).Msg("malformed send-message payload")
					continue
				}
				srv.svc.Relay(ctx, p.RoomCode, connID, p.Message)

			case model.EventLeaveRoom:
				var p model.LeaveRoomPayload
				if err := ev.Decode(&p); err != nil {
					logger.Error().Err(err).Msg("malformed leave-room payload")
					continue
				}
				srv.svc.Leave(ctx, p.RoomCode, connID)

			default:
				logger.Debug().Str("type", ev.Type).Msg("ignoring unknown event")
			}
		}
	}
}

func (srv *Server) disconnect(connID string, logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWebSocketCloseWriteDeadline)
	defer cancel()
	srv.svc.Disconnect(ctx, connID)
	logger.Debug().Msg("client disconnected")
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Event,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
			}
			logger.Trace().Msg("ping sent")

		case ev, ok := <-tx:
			if !ok {
				break SendLoop
			}

			b, wsErr := json.Marshal(&ev)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to marshal outgoing event")
				break SendLoop
			}

			wsErr = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			if wsErr = conn.WriteMessage(websocket.TextMessage, b); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing event")
				break SendLoop
			}
		}
	}
}

func webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	rx chan<- model.Event,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Warn().Err(wsErr).Msg("connection closed")
				} else {
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			var ev model.Event
			if wsErr = json.Unmarshal(msg, &ev); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to unmarshal incoming event")
			} else {
				select {
				case rx <- ev:
				case <-ctx.Done():
					break RecvLoop
				}
			}
		}
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage, []byte{})
		if wsErr != nil {
			logger.Error().Err(wsErr).Msg("failed to close websocket connection")
		}
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
