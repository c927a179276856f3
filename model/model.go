package model

import (
	"math/rand"
	"strings"
	"time"
)

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RoomCodeLength is the length of generated room codes.
const RoomCodeLength = 6

type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	JoinedAt int64  `json:"joinedAt,omitempty"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

type Room struct {
	Code         string                 `json:"code"`
	Participants map[string]Participant `json:"participants"`
}

// RoomInfo is a read-only room snapshot used by the status API.
type RoomInfo struct {
	Code         string
	Participants []Participant
}

const (
	MessageTypeSystem = "system"
	MessageTypeSpeech = "message"
)

type Message struct {
	ID              int64             `json:"id"`
	Type            string            `json:"type"`
	Speaker         string            `json:"speaker,omitempty"`
	SpeakerLanguage string            `json:"speakerLanguage,omitempty"`
	OriginalText    string            `json:"originalText,omitempty"`
	Text            string            `json:"text,omitempty"`
	Translations    map[string]string `json:"translations,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// NormalizeRoomCode maps user input to the canonical stored form.
// Codes are case-insensitive by convention and stored uppercase.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewRoomCode returns a random 6-char alphanumeric code. There is no
// collision detection beyond randomness.
func NewRoomCode() string {
	b := make([]byte, RoomCodeLength)
	for i := range b {
		b[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
	}
	return string(b)
}
