package service

import (
	"context"
	"errors"

	"github.com/nmtri/voicebridge/model"
	"github.com/rs/zerolog"
)

var (
	ErrJoin  = errors.New("unable to join room")
	ErrEvent = errors.New("unable to build event")
)

type (
	RoomStore interface {
		Join(roomCode string, p model.Participant) []model.Participant
		Remove(roomCode, id string) (model.Participant, []model.Participant, bool)
		RoomsWith(id string) []string
		Snapshot() []model.RoomInfo
	}

	Broadcaster interface {
		Connect(roomCode, id string, wire model.Wire)
		Disconnect(roomCode, id string)
		Broadcast(ctx context.Context, roomCode string, ev model.Event, except string)
		Send(ctx context.Context, roomCode, id string, ev model.Event) bool
	}

	// Service is the room registry: it owns membership and distributes
	// presence and message events to room members. Participant-list
	// broadcasts are full snapshots, so clients reconcile to ground truth
	// even if individual events are dropped.
	Service struct {
		store  RoomStore
		sw     Broadcaster
		logger zerolog.Logger
	}

	Config struct {
		RoomStore   RoomStore
		Broadcaster Broadcaster
		Logger      *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:  cfg.RoomStore,
		sw:     cfg.Broadcaster,
		logger: cfg.Logger.With().Str("component", "registry").Logger(),
	}
}

// Join adds the participant to the room (creating it if absent), connects
// its wire and notifies the room: the joiner receives room-joined with the
// full list, everyone receives participants-updated, everyone but the
// joiner receives user-joined.
func (svc *Service) Join(ctx context.Context, roomCode string, p model.Participant, wire model.Wire) ([]model.Participant, error) {
	code := model.NormalizeRoomCode(roomCode)
	if code == "" || p.ID == "" {
		return nil, ErrJoin
	}

	participants := svc.store.Join(code, p)
	svc.sw.Connect(code, p.ID, wire)

	svc.logger.Debug().
		Str("roomCode", code).
		Str("userName", p.Name).
		Int("participants", len(participants)).
		Msg("user joined room")

	evJoined, err := model.NewEvent(model.EventRoomJoined, model.RoomJoinedPayload{
		RoomCode:     code,
		Participants: participants,
	})
	if err != nil {
		return nil, errors.Join(ErrEvent, err)
	}
	svc.sw.Send(ctx, code, p.ID, evJoined)

	evList, err := model.NewEvent(model.EventParticipantsUpdated, model.ParticipantsPayload{
		Participants: participants,
	})
	if err != nil {
		return nil, errors.Join(ErrEvent, err)
	}
	svc.sw.Broadcast(ctx, code, evList, "")

	evUser, err := model.NewEvent(model.EventUserJoined, model.UserJoinedPayload{
		UserName:     p.Name,
		UserLanguage: p.Language,
	})
	if err != nil {
		return nil, errors.Join(ErrEvent, err)
	}
	svc.sw.Broadcast(ctx, code, evUser, p.ID)

	return participants, nil
}

// Leave removes the participant and notifies remaining members with an
// updated participant list and a user-left notice.
func (svc *Service) Leave(ctx context.Context, roomCode, id string) {
	code := model.NormalizeRoomCode(roomCode)

	removed, remaining, ok := svc.store.Remove(code, id)
	svc.sw.Disconnect(code, id)
	if !ok {
		return
	}

	svc.logger.Debug().
		Str("roomCode", code).
		Str("userName", removed.Name).
		Int("participants", len(remaining)).
		Msg("user left room")

	if len(remaining) == 0 {
		return
	}

	evList, err := model.NewEvent(model.EventParticipantsUpdated, model.ParticipantsPayload{
		Participants: remaining,
	})
	if err == nil {
		svc.sw.Broadcast(ctx, code, evList, "")
	}
	evLeft, err := model.NewEvent(model.EventUserLeft, model.UserLeftPayload{
		UserName: removed.Name,
	})
	if err == nil {
		svc.sw.Broadcast(ctx, code, evLeft, "")
	}
}

// Disconnect applies Leave to every room containing the connection.
func (svc *Service) Disconnect(ctx context.Context, id string) {
	for _, code := range svc.store.RoomsWith(id) {
		svc.Leave(ctx, code, id)
	}
}

// Relay forwards the message to every member of the room except the sender.
func (svc *Service) Relay(ctx context.Context, roomCode, senderID string, msg model.Message) {
	code := model.NormalizeRoomCode(roomCode)

	ev, err := model.NewEvent(model.EventNewMessage, model.MessagePayload{Message: msg})
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to encode message event")
		return
	}
	svc.logger.Debug().
		Str("roomCode", code).
		Str("speaker", msg.Speaker).
		Msg("relaying message")
	svc.sw.Broadcast(ctx, code, ev, senderID)
}

// Health reports room and participant totals for the status API.
func (svc *Service) Health() (rooms, participants int) {
	infos := svc.store.Snapshot()
	for _, info := range infos {
		participants += len(info.Participants)
	}
	return len(infos), participants
}

func (svc *Service) Rooms() []model.RoomInfo {
	return svc.store.Snapshot()
}
