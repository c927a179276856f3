package service

import (
	"context"
	"testing"

	"github.com/nmtri/voicebridge/model"
	"github.com/nmtri/voicebridge/relay"
	"github.com/nmtri/voicebridge/storage/memory"
	"github.com/rs/zerolog"
)

func newTestService() *Service {
	logger := zerolog.Nop()
	return NewService(Config{
		RoomStore:   memory.NewStore(),
		Broadcaster: relay.NewSwitch(&logger),
		Logger:      &logger,
	})
}

func newTestWire() model.Wire {
	return model.Wire{
		RX: make(chan model.Event, 16),
		TX: make(chan model.Event, 16),
	}
}

func drain(ch chan model.Event) []model.Event {
	var events []model.Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventTypes(events []model.Event) []string {
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func TestJoinNotifiesRoom(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	w1 := newTestWire()
	list, err := svc.Join(ctx, "abc123", model.Participant{ID: "c1", Name: "Tom", Language: "en", JoinedAt: 1}, w1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 participant, got %d", len(list))
	}

	got := eventTypes(drain(w1.TX))
	want := []string{model.EventRoomJoined, model.EventParticipantsUpdated}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("joiner events: expected %v, got %v", want, got)
	}

	w2 := newTestWire()
	list, err = svc.Join(ctx, "ABC123", model.Participant{ID: "c2", Name: "Linh", Language: "vi", JoinedAt: 2}, w2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(list))
	}

	// existing member sees the updated list and the join notice
	first := drain(w1.TX)
	got = eventTypes(first)
	want = []string{model.EventParticipantsUpdated, model.EventUserJoined}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("member events: expected %v, got %v", want, got)
	}

	var joined model.UserJoinedPayload
	if err = first[1].Decode(&joined); err != nil {
		t.Fatalf("failed to decode user-joined: %v", err)
	}
	if joined.UserName != "Linh" || joined.UserLanguage != "vi" {
		t.Errorf("unexpected user-joined payload %+v", joined)
	}

	// joiner gets the full list but no join notice about itself
	second := drain(w2.TX)
	got = eventTypes(second)
	want = []string{model.EventRoomJoined, model.EventParticipantsUpdated}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("joiner events: expected %v, got %v", want, got)
	}
	var roomJoined model.RoomJoinedPayload
	if err = second[0].Decode(&roomJoined); err != nil {
		t.Fatalf("failed to decode room-joined: %v", err)
	}
	if roomJoined.RoomCode != "ABC123" || len(roomJoined.Participants) != 2 {
		t.Errorf("unexpected room-joined payload %+v", roomJoined)
	}
}

func TestRelayExcludesSender(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	w1, w2 := newTestWire(), newTestWire()
	_, _ = svc.Join(ctx, "ABC123", model.Participant{ID: "c1", Name: "Tom", Language: "en"}, w1)
	_, _ = svc.Join(ctx, "ABC123", model.Participant{ID: "c2", Name: "Linh", Language: "vi"}, w2)
	drain(w1.TX)
	drain(w2.TX)

	msg := model.Message{
		ID:              42,
		Type:            model.MessageTypeSpeech,
		Speaker:         "Tom",
		SpeakerLanguage: "en",
		OriginalText:    "Hello",
		Translations:    map[string]string{"en": "Hello", "vi": "Xin chào"},
	}
	svc.Relay(ctx, "ABC123", "c1", msg)

	if got := drain(w1.TX); len(got) != 0 {
		t.Errorf("sender received its own message: %v", eventTypes(got))
	}
	events := drain(w2.TX)
	if len(events) != 1 || events[0].Type != model.EventNewMessage {
		t.Fatalf("expected one new-message, got %v", eventTypes(events))
	}
	var payload model.MessagePayload
	if err := events[0].Decode(&payload); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if payload.Message.OriginalText != "Hello" || payload.Message.Translations["vi"] != "Xin chào" {
		t.Errorf("unexpected message payload %+v", payload.Message)
	}
}

func TestLeaveNotifiesRemaining(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	w1, w2 := newTestWire(), newTestWire()
	_, _ = svc.Join(ctx, "ABC123", model.Participant{ID: "c1", Name: "Tom"}, w1)
	_, _ = svc.Join(ctx, "ABC123", model.Participant{ID: "c2", Name: "Linh"}, w2)
	drain(w1.TX)
	drain(w2.TX)

	svc.Leave(ctx, "ABC123", "c1")

	events := drain(w2.TX)
	got := eventTypes(events)
	want := []string{model.EventParticipantsUpdated, model.EventUserLeft}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
	var left model.UserLeftPayload
	if err := events[1].Decode(&left); err != nil {
		t.Fatalf("failed to decode user-left: %v", err)
	}
	if left.UserName != "Tom" {
		t.Errorf("unexpected user-left payload %+v", left)
	}

	// leaver's wire is disconnected
	if got := drain(w1.TX); len(got) != 0 {
		t.Errorf("leaver still receives events: %v", eventTypes(got))
	}
}

func TestDisconnectCleansUpAndEmptiesRoom(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	w1 := newTestWire()
	_, _ = svc.Join(ctx, "ABC123", model.Participant{ID: "c1", Name: "Tom"}, w1)

	rooms, participants := svc.Health()
	if rooms != 1 || participants != 1 {
		t.Fatalf("expected 1/1 before disconnect, got %d/%d", rooms, participants)
	}

	svc.Disconnect(ctx, "c1")

	rooms, participants = svc.Health()
	if rooms != 0 || participants != 0 {
		t.Errorf("expected empty registry after disconnect, got %d/%d", rooms, participants)
	}
}

func TestJoinValidation(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Join(context.Background(), "", model.Participant{ID: "c1"}, newTestWire()); err == nil {
		t.Error("expected error for empty room code")
	}
	if _, err := svc.Join(context.Background(), "ABC123", model.Participant{}, newTestWire()); err == nil {
		t.Error("expected error for empty participant id")
	}
}
