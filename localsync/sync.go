package localsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nmtri/voicebridge/model"
	"github.com/rs/zerolog"
)

const (
	participantsKeyPrefix = "conversation_participants_"
	messagesKeyPrefix     = "conversation_messages_"

	defaultHeartbeatInterval = 3 * time.Second
	defaultStaleAfter        = 10 * time.Second
	maxLogEntries            = 100
)

var ErrNotJoined = errors.New("not joined to a room")

type Config struct {
	KV                KV
	Logger            *zerolog.Logger
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
}

// Sync emulates the relay transport over a shared key-value store, for when
// no server is reachable. It only works across execution contexts sharing
// the same store (e.g. several processes on one machine). Identity is the
// user name; two contexts joining with the same name overwrite each other
// (last write wins).
type Sync struct {
	kv     KV
	logger zerolog.Logger
	now    func() time.Time

	heartbeatInterval time.Duration
	staleAfter        time.Duration

	mx           sync.Mutex
	roomCode     string
	userName     string
	userLanguage string
	lastSeenID   int64
	cancel       context.CancelFunc

	events chan model.Event
}

func New(cfg Config) *Sync {
	s := &Sync{
		kv:                cfg.KV,
		now:               time.Now,
		heartbeatInterval: cfg.HeartbeatInterval,
		staleAfter:        cfg.StaleAfter,
		events:            make(chan model.Event, 64),
		logger:            zerolog.Nop(),
	}
	if cfg.Logger != nil {
		s.logger = cfg.Logger.With().Str("component", "local-sync").Logger()
	}
	if s.heartbeatInterval == 0 {
		s.heartbeatInterval = defaultHeartbeatInterval
	}
	if s.staleAfter == 0 {
		s.staleAfter = defaultStaleAfter
	}
	return s
}

// Join writes the first presence record and starts the heartbeat and the
// message-log watcher. It returns the participant list after the first
// write.
func (s *Sync) Join(ctx context.Context, roomCode, userName, userLanguage string) ([]model.Participant, error) {
	code := model.NormalizeRoomCode(roomCode)

	s.mx.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.roomCode = code
	s.userName = userName
	s.userLanguage = userLanguage
	// remember the newest existing entry so history is not replayed
	s.lastSeenID = newestID(s.readLog(code))
	s.mx.Unlock()

	participants, err := s.heartbeat()
	if err != nil {
		return nil, err
	}

	watch, err := s.kv.Watch(runCtx, messagesKeyPrefix+code)
	if err != nil {
		cancel()
		return nil, err
	}
	go s.heartbeatLoop(runCtx)
	go s.watchLoop(runCtx, watch)

	return participants, nil
}

func (s *Sync) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(s.heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.heartbeat(); err != nil {
				s.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// heartbeat upserts our own presence record, prunes stale entries and
// persists the result. Pruning happens on every write, so a participant
// that stops heartbeating disappears from others' view within one stale
// window plus one heartbeat.
func (s *Sync) heartbeat() ([]model.Participant, error) {
	s.mx.Lock()
	code := s.roomCode
	name := s.userName
	lang := s.userLanguage
	s.mx.Unlock()
	if code == "" {
		return nil, ErrNotJoined
	}

	key := participantsKeyPrefix + code
	participants := s.readParticipants(key)

	now := s.now().UnixMilli()
	self := model.Participant{
		ID:       name,
		Name:     name,
		Language: lang,
		LastSeen: now,
	}

	found := false
	for i := range participants {
		if participants[i].ID == name {
			participants[i] = self
			found = true
			break
		}
	}
	if !found {
		participants = append(participants, self)
	}

	cutoff := now - s.staleAfter.Milliseconds()
	alive := participants[:0]
	for _, p := range participants {
		if p.LastSeen > cutoff {
			alive = append(alive, p)
		}
	}

	b, err := json.Marshal(alive)
	if err != nil {
		return nil, err
	}
	if err = s.kv.Put(key, b); err != nil {
		return nil, err
	}

	s.emit(model.EventParticipantsUpdated, model.ParticipantsPayload{Participants: alive})
	return alive, nil
}

func (s *Sync) watchLoop(ctx context.Context, watch <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-watch:
			if !ok {
				return
			}
			s.handleLogChange(raw)
		}
	}
}

// handleLogChange fires new-message events only when the newest entry id is
// strictly greater than the last one seen, so repeated notifications for
// the same append are ignored.
func (s *Sync) handleLogChange(raw []byte) {
	var log []model.Message
	if err := json.Unmarshal(raw, &log); err != nil {
		s.logger.Warn().Err(err).Msg("discarding malformed message log")
		return
	}
	newest := newestID(log)

	s.mx.Lock()
	last := s.lastSeenID
	name := s.userName
	if newest <= last {
		s.mx.Unlock()
		return
	}
	s.lastSeenID = newest
	s.mx.Unlock()

	for _, msg := range log {
		if msg.ID <= last || msg.Speaker == name {
			continue
		}
		s.emit(model.EventNewMessage, model.MessagePayload{Message: msg})
	}
}

// Send appends the message to the per-room log, evicting the oldest entries
// beyond the cap.
func (s *Sync) Send(_ context.Context, msg model.Message) error {
	s.mx.Lock()
	code := s.roomCode
	if code == "" {
		s.mx.Unlock()
		return ErrNotJoined
	}
	if msg.ID > s.lastSeenID {
		s.lastSeenID = msg.ID
	}
	s.mx.Unlock()

	key := messagesKeyPrefix + code
	log := s.readLog(code)
	log = append(log, msg)
	if len(log) > maxLogEntries {
		log = log[len(log)-maxLogEntries:]
	}
	b, err := json.Marshal(log)
	if err != nil {
		return err
	}
	return s.kv.Put(key, b)
}

// Leave removes our presence record and stops the heartbeat and watcher.
func (s *Sync) Leave(_ context.Context) error {
	s.mx.Lock()
	code := s.roomCode
	name := s.userName
	cancel := s.cancel
	s.roomCode = ""
	s.cancel = nil
	s.mx.Unlock()

	if cancel != nil {
		cancel()
	}
	if code == "" {
		return nil
	}

	key := participantsKeyPrefix + code
	participants := s.readParticipants(key)
	remaining := participants[:0]
	for _, p := range participants {
		if p.ID != name {
			remaining = append(remaining, p)
		}
	}
	b, err := json.Marshal(remaining)
	if err != nil {
		return err
	}
	return s.kv.Put(key, b)
}

// ClearMessages drops the room's message log.
func (s *Sync) ClearMessages(roomCode string) error {
	return s.kv.Delete(messagesKeyPrefix + model.NormalizeRoomCode(roomCode))
}

func (s *Sync) Events() <-chan model.Event {
	return s.events
}

func (s *Sync) Close() error {
	s.mx.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mx.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *Sync) emit(eventType string, payload any) {
	ev, err := model.NewEvent(eventType, payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode event")
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn().Str("type", eventType).Msg("event buffer full, dropping")
	}
}

// readParticipants tolerates a missing or corrupt record by treating it as
// an empty list.
func (s *Sync) readParticipants(key string) []model.Participant {
	raw, ok, err := s.kv.Get(key)
	if err != nil || !ok {
		return nil
	}
	var participants []model.Participant
	if err = json.Unmarshal(raw, &participants); err != nil {
		s.logger.Warn().Err(err).Msg("discarding malformed participant list")
		return nil
	}
	return participants
}

func (s *Sync) readLog(roomCode string) []model.Message {
	raw, ok, err := s.kv.Get(messagesKeyPrefix + roomCode)
	if err != nil || !ok {
		return nil
	}
	var log []model.Message
	if err = json.Unmarshal(raw, &log); err != nil {
		s.logger.Warn().Err(err).Msg("discarding malformed message log")
		return nil
	}
	return log
}

func newestID(log []model.Message) int64 {
	if len(log) == 0 {
		return 0
	}
	return log[len(log)-1].ID
}
