package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nmtri/voicebridge/model"
	"github.com/rs/zerolog"
)

type fakeRoomService struct {
	infos []model.RoomInfo
}

func (f *fakeRoomService) Health() (int, int) {
	total := 0
	for _, info := range f.infos {
		total += len(info.Participants)
	}
	return len(f.infos), total
}

func (f *fakeRoomService) Rooms() []model.RoomInfo {
	return f.infos
}

func newTestServer(infos []model.RoomInfo) *Server {
	logger := zerolog.Nop()
	return NewServer(Config{
		Logger:      &logger,
		RoomService: &fakeRoomService{infos: infos},
		ListenAddr:  ":0",
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer([]model.RoomInfo{
		{Code: "ABC123", Participants: []model.Participant{
			{Name: "Tom", Language: "en"},
			{Name: "Linh", Language: "vi"},
		}},
		{Code: "XYZ789", Participants: []model.Participant{
			{Name: "Ana", Language: "es"},
		}},
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("malformed response: %v", err)
	}
	if resp.Status != "ok" || resp.Rooms != 2 || resp.TotalParticipants != 3 {
		t.Errorf("unexpected health response %+v", resp)
	}
}

func TestRoomsEndpoint(t *testing.T) {
	srv := newTestServer([]model.RoomInfo{
		{Code: "ABC123", Participants: []model.Participant{
			{ID: "c1", Name: "Tom", Language: "en"},
		}},
	})

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp roomsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("malformed response: %v", err)
	}
	if len(resp.Rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(resp.Rooms))
	}
	room := resp.Rooms[0]
	if room.Code != "ABC123" || room.ParticipantCount != 1 {
		t.Errorf("unexpected room entry %+v", room)
	}
	if len(room.Participants) != 1 || room.Participants[0].Name != "Tom" || room.Participants[0].Language != "en" {
		t.Errorf("unexpected participants %+v", room.Participants)
	}
}

func TestRoomsEndpointEmpty(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	var resp roomsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("malformed response: %v", err)
	}
	if resp.Rooms == nil || len(resp.Rooms) != 0 {
		t.Errorf("expected empty rooms array, got %+v", resp.Rooms)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}
