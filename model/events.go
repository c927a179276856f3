package model

import "encoding/json"

// Event types exchanged between a session and the relay server. The local
// presence sync emits the same events so that sessions are transport-agnostic.
const (
	EventJoinRoom            = "join-room"
	EventRoomJoined          = "room-joined"
	EventParticipantsUpdated = "participants-updated"
	EventUserJoined          = "user-joined"
	EventUserLeft            = "user-left"
	EventSendMessage         = "send-message"
	EventNewMessage          = "new-message"
	EventLeaveRoom           = "leave-room"
)

type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEvent(eventType string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: b}, nil
}

func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type JoinRoomPayload struct {
	RoomCode     string `json:"roomCode"`
	UserName     string `json:"userName"`
	UserLanguage string `json:"userLanguage"`
}

type RoomJoinedPayload struct {
	RoomCode     string        `json:"roomCode"`
	Participants []Participant `json:"participants"`
}

type ParticipantsPayload struct {
	Participants []Participant `json:"participants"`
}

type UserJoinedPayload struct {
	UserName     string `json:"userName"`
	UserLanguage string `json:"userLanguage"`
}

type UserLeftPayload struct {
	UserName string `json:"userName"`
}

type MessagePayload struct {
	RoomCode string  `json:"roomCode,omitempty"`
	Message  Message `json:"message"`
}

type LeaveRoomPayload struct {
	RoomCode string `json:"roomCode"`
}

// Wire is a bidirectional event channel between a connection handler and the
// relay switch. RX carries events read from the client, TX events to deliver.
type Wire struct {
	RX chan Event
	TX chan Event
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Event),
		TX: make(chan Event),
	}
}
