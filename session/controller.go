package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nmtri/voicebridge/localsync"
	"github.com/nmtri/voicebridge/model"
	"github.com/nmtri/voicebridge/translate"
	"github.com/rs/zerolog"
)

// SessionKey is the fixed storage key for the persisted session blob.
const SessionKey = "conversation_room_state"

var (
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrNotInRoom     = errors.New("not in a room")
	ErrLeftRoom      = errors.New("session left the room")
)

type (
	// Transport distributes presence and message events for one room. The
	// relay client and the local presence sync both implement it; the
	// controller depends only on this interface.
	Transport interface {
		Join(ctx context.Context, roomCode, userName, userLanguage string) ([]model.Participant, error)
		Send(ctx context.Context, msg model.Message) error
		Leave(ctx context.Context) error
		Events() <-chan model.Event
		Close() error
	}

	Utterance struct {
		Transcript string
		Final      bool
	}

	// SpeechIO is the external speech collaborator: transcript capture and
	// text-to-speech.
	SpeechIO interface {
		Capture(ctx context.Context, language string) (<-chan Utterance, error)
		Speak(ctx context.Context, text, language string) error
	}

	// Snapshot is the durable session blob, restored after a restart.
	Snapshot struct {
		RoomCode     string          `json:"roomCode"`
		UserName     string          `json:"userName"`
		UserLanguage string          `json:"userLanguage"`
		Messages     []model.Message `json:"messages"`
	}

	Config struct {
		Translator translate.Translator
		Speech     SpeechIO
		// DialRelay attempts a relay connection. A nil DialRelay or a dial
		// error routes the session to NewLocal.
		DialRelay func(ctx context.Context) (Transport, error)
		NewLocal  func() (Transport, error)
		Store     localsync.KV
		AutoSpeak bool
		Logger    *zerolog.Logger
	}

	// Controller orchestrates one user's conversation session: capture a
	// transcript, fan translation out to every participant language,
	// broadcast, and speak incoming messages.
	Controller struct {
		translator translate.Translator
		speech     SpeechIO
		dialRelay  func(ctx context.Context) (Transport, error)
		newLocal   func() (Transport, error)
		store      localsync.KV
		logger     zerolog.Logger
		now        func() time.Time

		mx            sync.Mutex
		transport     Transport
		roomCode      string
		userName      string
		userLanguage  string
		participants  []model.Participant
		messages      []model.Message
		autoSpeak     bool
		listening     bool
		epoch         int
		lastMsgID     int64
		runCancel     context.CancelFunc
		captureCancel context.CancelFunc
		restored      *Snapshot
	}
)

func New(cfg Config) *Controller {
	c := &Controller{
		translator: cfg.Translator,
		speech:     cfg.Speech,
		dialRelay:  cfg.DialRelay,
		newLocal:   cfg.NewLocal,
		store:      cfg.Store,
		autoSpeak:  cfg.AutoSpeak,
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	if cfg.Logger != nil {
		c.logger = cfg.Logger.With().Str("component", "session").Logger()
	}
	c.restore()
	return c
}

// restore loads the persisted session blob. A corrupt blob is discarded.
func (c *Controller) restore() {
	if c.store == nil {
		return
	}
	raw, ok, err := c.store.Get(SessionKey)
	if err != nil || !ok {
		return
	}
	var snap Snapshot
	if err = json.Unmarshal(raw, &snap); err != nil {
		c.logger.Warn().Err(err).Msg("discarding malformed session state")
		_ = c.store.Delete(SessionKey)
		return
	}
	c.restored = &snap
}

// Restored returns the persisted session, if any, so a caller can rejoin
// the previous room with the previous identity.
func (c *Controller) Restored() (Snapshot, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.restored == nil {
		return Snapshot{}, false
	}
	return *c.restored, true
}

// CreateRoom generates a fresh room code and joins it.
func (c *Controller) CreateRoom(ctx context.Context, userName, userLanguage string) (string, error) {
	code := model.NewRoomCode()
	return code, c.Join(ctx, code, userName, userLanguage)
}

// Join connects the session to a room: relay transport when reachable,
// local presence sync otherwise.
func (c *Controller) Join(ctx context.Context, roomCode, userName, userLanguage string) error {
	c.mx.Lock()
	if c.transport != nil {
		c.mx.Unlock()
		return ErrAlreadyInRoom
	}
	restored := c.restored
	c.mx.Unlock()

	code := model.NormalizeRoomCode(roomCode)

	transport, err := c.pickTransport(ctx)
	if err != nil {
		return err
	}
	participants, err := transport.Join(ctx, code, userName, userLanguage)
	if err != nil {
		_ = transport.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c.mx.Lock()
	c.transport = transport
	c.roomCode = code
	c.userName = userName
	c.userLanguage = userLanguage
	c.participants = participants
	c.messages = nil
	if restored != nil && restored.RoomCode == code && restored.UserName == userName {
		c.messages = restored.Messages
		for _, m := range restored.Messages {
			if m.ID > c.lastMsgID {
				c.lastMsgID = m.ID
			}
		}
	}
	c.restored = nil
	c.runCancel = cancel
	epoch := c.epoch
	c.mx.Unlock()

	c.persist()
	go c.eventLoop(runCtx, transport.Events(), epoch)

	c.logger.Info().
		Str("roomCode", code).
		Str("userName", userName).
		Int("participants", len(participants)).
		Msg("joined room")
	return nil
}

func (c *Controller) pickTransport(ctx context.Context) (Transport, error) {
	if c.dialRelay != nil {
		transport, err := c.dialRelay(ctx)
		if err == nil {
			return transport, nil
		}
		c.logger.Warn().Err(err).Msg("relay unreachable, falling back to local sync")
	}
	if c.newLocal == nil {
		return nil, errors.New("no transport available")
	}
	return c.newLocal()
}

// Leave disconnects from the room and removes the persisted session.
// Pending capture and heartbeats are canceled; in-flight translations will
// notice the epoch change and discard their results.
func (c *Controller) Leave(ctx context.Context) error {
	c.mx.Lock()
	transport := c.transport
	runCancel := c.runCancel
	captureCancel := c.captureCancel
	c.transport = nil
	c.runCancel = nil
	c.captureCancel = nil
	c.roomCode = ""
	c.participants = nil
	c.messages = nil
	c.listening = false
	c.epoch++
	c.mx.Unlock()

	if transport == nil {
		return ErrNotInRoom
	}
	if captureCancel != nil {
		captureCancel()
	}
	if runCancel != nil {
		runCancel()
	}

	err := transport.Leave(ctx)
	if cErr := transport.Close(); err == nil {
		err = cErr
	}
	if c.store != nil {
		_ = c.store.Delete(SessionKey)
	}
	c.logger.Info().Msg("left room")
	return err
}

// HandleTranscript turns a finalized transcript into a message, fans the
// translation out to every distinct participant language, appends it
// locally and broadcasts it. The speaker's own language always maps to the
// verbatim original; a language whose translation fails is omitted.
func (c *Controller) HandleTranscript(ctx context.Context, transcript string) (model.Message, error) {
	c.mx.Lock()
	if c.transport == nil {
		c.mx.Unlock()
		return model.Message{}, ErrNotInRoom
	}
	transport := c.transport
	speaker := c.userName
	speakerLang := c.userLanguage
	epoch := c.epoch
	targets := make(map[string]struct{})
	for _, p := range c.participants {
		if p.Language != speakerLang {
			targets[p.Language] = struct{}{}
		}
	}
	msg := model.Message{
		ID:              c.nextMessageIDLocked(),
		Type:            model.MessageTypeSpeech,
		Speaker:         speaker,
		SpeakerLanguage: speakerLang,
		OriginalText:    transcript,
		Translations:    map[string]string{speakerLang: transcript},
		Timestamp:       c.now(),
	}
	c.mx.Unlock()

	var (
		wg sync.WaitGroup
		tm sync.Mutex
	)
	for lang := range targets {
		wg.Add(1)
		go func(lang string) {
			defer wg.Done()
			out, err := c.translator.Translate(ctx, transcript, speakerLang, lang)
			if err != nil {
				c.logger.Warn().Err(err).Str("target", lang).Msg("translation unavailable")
				return
			}
			tm.Lock()
			msg.Translations[lang] = out
			tm.Unlock()
		}(lang)
	}
	wg.Wait()

	c.mx.Lock()
	if c.epoch != epoch {
		c.mx.Unlock()
		return model.Message{}, ErrLeftRoom
	}
	c.messages = append(c.messages, msg)
	c.mx.Unlock()
	c.persist()

	if err := transport.Send(ctx, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

func (c *Controller) eventLoop(ctx context.Context, events <-chan model.Event, epoch int) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ctx, ev, epoch)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev model.Event, epoch int) {
	switch ev.Type {
	case model.EventParticipantsUpdated:
		var p model.ParticipantsPayload
		if err := ev.Decode(&p); err != nil {
			c.logger.Error().Err(err).Msg("malformed participants payload")
			return
		}
		c.mx.Lock()
		if c.epoch == epoch {
			c.participants = p.Participants
		}
		c.mx.Unlock()

	case model.EventUserJoined:
		var p model.UserJoinedPayload
		if err := ev.Decode(&p); err != nil {
			return
		}
		c.addSystemMessage(epoch, fmt.Sprintf("%s joined the room", p.UserName))

	case model.EventUserLeft:
		var p model.UserLeftPayload
		if err := ev.Decode(&p); err != nil {
			return
		}
		c.addSystemMessage(epoch, fmt.Sprintf("%s left the room", p.UserName))

	case model.EventNewMessage:
		var p model.MessagePayload
		if err := ev.Decode(&p); err != nil {
			c.logger.Error().Err(err).Msg("malformed message payload")
			return
		}
		c.handleIncoming(ctx, p.Message, epoch)

	default:
		c.logger.Debug().Str("type", ev.Type).Msg("ignoring event")
	}
}

// handleIncoming appends a remote message and speaks it: the translation
// into the local language when present, the original text otherwise.
// Speaking is for received messages only, never our own.
func (c *Controller) handleIncoming(ctx context.Context, msg model.Message, epoch int) {
	c.mx.Lock()
	if c.epoch != epoch {
		c.mx.Unlock()
		return
	}
	if msg.Speaker == c.userName {
		c.mx.Unlock()
		return
	}
	myLang := c.userLanguage
	speak := c.autoSpeak
	if msg.ID > c.lastMsgID {
		c.lastMsgID = msg.ID
	}
	c.messages = append(c.messages, msg)
	c.mx.Unlock()
	c.persist()

	if !speak || msg.Type != model.MessageTypeSpeech || c.speech == nil {
		return
	}
	text, lang := msg.Translations[myLang], myLang
	if text == "" {
		text, lang = msg.OriginalText, msg.SpeakerLanguage
	}
	if text == "" {
		return
	}
	if err := c.speech.Speak(ctx, text, lang); err != nil {
		c.logger.Warn().Err(err).Msg("speech synthesis failed")
	}
}

func (c *Controller) addSystemMessage(epoch int, text string) {
	c.mx.Lock()
	if c.epoch != epoch {
		c.mx.Unlock()
		return
	}
	c.messages = append(c.messages, model.Message{
		ID:        c.nextMessageIDLocked(),
		Type:      model.MessageTypeSystem,
		Text:      text,
		Timestamp: c.now(),
	})
	c.mx.Unlock()
	c.persist()
}

// StartListening begins the continuous capture loop. The loop restarts
// capture whenever the provider's stream ends, for as long as the explicit
// listening flag holds; StopListening clears the flag so the provider's own
// end event cannot resurrect capture.
func (c *Controller) StartListening() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.transport == nil {
		return ErrNotInRoom
	}
	if c.listening {
		return nil
	}
	if c.speech == nil {
		return errors.New("no speech provider")
	}
	c.listening = true
	capCtx, cancel := context.WithCancel(context.Background())
	c.captureCancel = cancel
	go c.captureLoop(capCtx, c.epoch, c.userLanguage)
	return nil
}

func (c *Controller) StopListening() {
	c.mx.Lock()
	c.listening = false
	cancel := c.captureCancel
	c.captureCancel = nil
	c.mx.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) captureLoop(ctx context.Context, epoch int, language string) {
	for {
		stream, err := c.speech.Capture(ctx, language)
		if err != nil {
			c.logger.Warn().Err(err).Msg("capture failed")
			c.mx.Lock()
			if c.epoch == epoch {
				c.listening = false
			}
			c.mx.Unlock()
			return
		}
		for u := range stream {
			if !u.Final || strings.TrimSpace(u.Transcript) == "" {
				continue
			}
			if _, err = c.HandleTranscript(ctx, u.Transcript); err != nil {
				if errors.Is(err, ErrLeftRoom) || errors.Is(err, ErrNotInRoom) {
					return
				}
				c.logger.Warn().Err(err).Msg("failed to process transcript")
			}
		}

		// stream ended; restart only while explicitly listening
		c.mx.Lock()
		again := c.listening && c.epoch == epoch
		c.mx.Unlock()
		if !again || ctx.Err() != nil {
			return
		}
	}
}

func (c *Controller) Listening() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.listening
}

func (c *Controller) SetAutoSpeak(on bool) {
	c.mx.Lock()
	c.autoSpeak = on
	c.mx.Unlock()
}

func (c *Controller) InRoom() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.transport != nil
}

func (c *Controller) RoomCode() string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.roomCode
}

func (c *Controller) Participants() []model.Participant {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([]model.Participant(nil), c.participants...)
}

func (c *Controller) Messages() []model.Message {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([]model.Message(nil), c.messages...)
}

// nextMessageIDLocked returns a time-based id forced strictly monotonic
// within the session. Callers must hold c.mx.
func (c *Controller) nextMessageIDLocked() int64 {
	id := c.now().UnixMilli()
	if id <= c.lastMsgID {
		id = c.lastMsgID + 1
	}
	c.lastMsgID = id
	return id
}

func (c *Controller) persist() {
	if c.store == nil {
		return
	}
	c.mx.Lock()
	if c.transport == nil {
		c.mx.Unlock()
		return
	}
	snap := Snapshot{
		RoomCode:     c.roomCode,
		UserName:     c.userName,
		UserLanguage: c.userLanguage,
		Messages:     append([]model.Message(nil), c.messages...),
	}
	c.mx.Unlock()

	b, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode session state")
		return
	}
	if err = c.store.Put(SessionKey, b); err != nil {
		c.logger.Warn().Err(err).Msg("failed to persist session state")
	}
}
