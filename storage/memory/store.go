package memory

import (
	"errors"
	"sort"
	"sync"

	"github.com/nmtri/voicebridge/model"
)

var ErrRoomNotFound = errors.New("room is not found")

// Store keeps transient room membership. Rooms are created implicitly on
// first join and removed once empty.
type Store struct {
	mx    *sync.Mutex
	rooms map[string]*model.Room
}

func NewStore() *Store {
	return &Store{
		mx:    &sync.Mutex{},
		rooms: make(map[string]*model.Room),
	}
}

// Join upserts the participant by id and returns the full participant list
// after the join. Room codes are normalized to uppercase.
func (s *Store) Join(roomCode string, p model.Participant) []model.Participant {
	code := model.NormalizeRoomCode(roomCode)

	s.mx.Lock()
	defer s.mx.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		room = &model.Room{
			Code:         code,
			Participants: make(map[string]model.Participant),
		}
		s.rooms[code] = room
	}
	room.Participants[p.ID] = p
	return participantList(room)
}

// Remove deletes the participant from the room and returns the removed
// participant plus the remaining list. An emptied room is deleted.
func (s *Store) Remove(roomCode, id string) (model.Participant, []model.Participant, bool) {
	code := model.NormalizeRoomCode(roomCode)

	s.mx.Lock()
	defer s.mx.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return model.Participant{}, nil, false
	}
	p, ok := room.Participants[id]
	if !ok {
		return model.Participant{}, nil, false
	}
	delete(room.Participants, id)
	if len(room.Participants) == 0 {
		delete(s.rooms, code)
		return p, nil, true
	}
	return p, participantList(room), true
}

// RoomsWith returns codes of every room containing the given participant id.
// A connection belongs to at most one room in practice, but disconnect
// handling scans defensively.
func (s *Store) RoomsWith(id string) []string {
	s.mx.Lock()
	defer s.mx.Unlock()

	var codes []string
	for code, room := range s.rooms {
		if _, ok := room.Participants[id]; ok {
			codes = append(codes, code)
		}
	}
	return codes
}

func (s *Store) Participants(roomCode string) ([]model.Participant, error) {
	code := model.NormalizeRoomCode(roomCode)

	s.mx.Lock()
	defer s.mx.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return participantList(room), nil
}

// Snapshot returns all rooms with their participant lists, sorted by code.
func (s *Store) Snapshot() []model.RoomInfo {
	s.mx.Lock()
	defer s.mx.Unlock()

	infos := make([]model.RoomInfo, 0, len(s.rooms))
	for code, room := range s.rooms {
		infos = append(infos, model.RoomInfo{
			Code:         code,
			Participants: participantList(room),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Code < infos[j].Code })
	return infos
}

func participantList(room *model.Room) []model.Participant {
	list := make([]model.Participant, 0, len(room.Participants))
	for _, p := range room.Participants {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt != list[j].JoinedAt {
			return list[i].JoinedAt < list[j].JoinedAt
		}
		return list[i].Name < list[j].Name
	})
	return list
}
