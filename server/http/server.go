package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/nmtri/voicebridge/model"
	"github.com/rs/zerolog"
)

const defaultShutdownDeadline = 10 * time.Second

var ErrUnexpected = errors.New("unexpected server error")

type RoomService interface {
	Health() (rooms, participants int)
	Rooms() []model.RoomInfo
}

type healthResponse struct {
	Status            string `json:"status"`
	Rooms             int    `json:"rooms"`
	TotalParticipants int    `json:"totalParticipants"`
}

type roomEntry struct {
	Code             string       `json:"code"`
	ParticipantCount int          `json:"participantCount"`
	Participants     []roomMember `json:"participants"`
}

type roomMember struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

type roomsResponse struct {
	Rooms []roomEntry `json:"rooms"`
}

type Server struct {
	logger zerolog.Logger
	svc    RoomService
	*http.Server
}

type Config struct {
	Logger      *zerolog.Logger
	RoomService RoomService
	ListenAddr  string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.RoomService,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", srv.health).Methods(http.MethodGet)
	r.HandleFunc("/rooms", srv.rooms).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: cors(r),
	}
	return srv
}

func (srv *Server) health(w http.ResponseWriter, _ *http.Request) {
	rooms, participants := srv.svc.Health()
	srv.writeJSON(w, http.StatusOK, healthResponse{
		Status:            "ok",
		Rooms:             rooms,
		TotalParticipants: participants,
	})
}

func (srv *Server) rooms(w http.ResponseWriter, _ *http.Request) {
	infos := srv.svc.Rooms()
	resp := roomsResponse{Rooms: make([]roomEntry, 0, len(infos))}
	for _, info := range infos {
		entry := roomEntry{
			Code:             info.Code,
			ParticipantCount: len(info.Participants),
			Participants:     make([]roomMember, 0, len(info.Participants)),
		}
		for _, p := range info.Participants {
			entry.Participants = append(entry.Participants, roomMember{
				Name:     p.Name,
				Language: p.Language,
			})
		}
		resp.Rooms = append(resp.Rooms, entry)
	}
	srv.writeJSON(w, http.StatusOK, resp)
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
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
