package main

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/ssau-fiit/livetype-api/fanout"
	"github.com/ssau-fiit/livetype-api/feed"
	"github.com/ssau-fiit/livetype-api/prefs"
	"github.com/ssau-fiit/livetype-api/typing"
	"net/http"
	"time"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufSize    = 256
	closeTimeout   = 5 * time.Second
)

var errUnknownOp = errors.New("unknown operation")

// handleSocket runs one participant's live session until the connection
// drops. user and peer default to the configured pair.
func (a *App) handleSocket(c *gin.Context) {
	self := c.DefaultQuery("user", a.cfg.Self)
	peer := c.DefaultQuery("peer", a.cfg.Peer)
	if self == "" || peer == "" || self == peer {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("error upgrading connection")
		return
	}

	s := newSession(a, conn, self, peer)
	if !a.track(s) {
		s.outbound.Close()
		s.cancel()
		conn.Close()
		return
	}
	defer a.untrack(s)
	s.run()
}

func (a *App) track(s *session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessions == nil {
		return false
	}
	a.sessions[s] = struct{}{}
	a.wg.Add(1)
	return true
}

func (a *App) untrack(s *session) {
	a.mu.Lock()
	if a.sessions != nil {
		delete(a.sessions, s)
	}
	a.mu.Unlock()
	a.wg.Done()
}

// CloseSessions ends every live session and waits for their teardown,
// which deletes each participant's typing record, until ctx is done.
func (a *App) CloseSessions(ctx context.Context) {
	a.mu.Lock()
	sessions := a.sessions
	a.sessions = nil
	a.mu.Unlock()

	for s := range sessions {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Int("sessions", len(sessions)).Msg("sessions did not close in time")
	}
}

type session struct {
	app    *App
	conn   *websocket.Conn
	self   string
	peer   string
	logger zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	outbound *fanout.Queue[Event]
	egress   chan Event

	agg      *typing.Aggregator
	renderer *typing.Renderer
	subs     []typing.Subscription

	// Own preferences. Only the read pump touches them.
	prefs prefs.Preferences
}

func newSession(a *App, conn *websocket.Conn, self, peer string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		app:    a,
		conn:   conn,
		self:   self,
		peer:   peer,
		logger: log.With().Str("owner", self).Str("peer", peer).Logger(),
		ctx:    ctx,
		cancel: cancel,
		egress: make(chan Event, sendBufSize),
	}
	s.outbound = fanout.NewQueue(s.enqueue, false)
	return s
}

// send never blocks the caller. Renderer and subscription callbacks use it.
func (s *session) send(ev Event) {
	s.outbound.Push(ev)
}

func (s *session) enqueue(ev Event) {
	select {
	case s.egress <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) fail(op string, err error) {
	s.send(Event{Type: evError, Payload: ErrorPayload{Op: op, Error: err.Error()}})
}

func (s *session) run() {
	go s.writePump()
	defer s.teardown()

	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	s.prefs = prefs.LoadOrDefault(ctx, s.app.prefs, s.self)
	cancel()
	s.send(Event{Type: evPrefs, Payload: preferencesResponse(s.prefs)})

	s.renderer = typing.NewRenderer(socketDisplay{s}, s.app.clock, s.app.cfg.Typing.StaleAfter)
	s.agg = typing.NewAggregator(s.self, s.app.store, s.app.clock, s.app.aggregatorConfig())

	ctx, cancel = context.WithTimeout(s.ctx, requestTimeout)
	if text := s.agg.Restore(ctx); text != "" {
		s.send(Event{Type: evRestore, Payload: RestorePayload{Text: text}})
	}
	cancel()

	s.subs = append(s.subs,
		s.app.store.Subscribe(s.peer, func(snap typing.Snapshot) {
			s.renderer.Apply(snap)
		}),
		s.app.prefs.Subscribe(s.peer, func(p prefs.Preferences) {
			s.send(Event{Type: evPeerPrefs, Payload: preferencesResponse(p)})
			s.renderer.SetStyle(p.Style())
		}),
		s.app.feed.Subscribe(func(msgs []feed.Message) {
			s.send(Event{Type: evMessages, Payload: MessagesResponse{
				Messages: msgs,
				Foreign:  feed.Foreign(msgs, s.self),
			}})
		}),
	)
	s.logger.Info().Msg("session started")

	s.readPump()
}

// teardown stops every subscription before the aggregator deletes the
// participant's record.
func (s *session) teardown() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	if s.renderer != nil {
		s.renderer.Stop()
	}
	if s.agg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		s.agg.Close(ctx)
		cancel()
	}
	s.outbound.Close()
	s.cancel()
	s.logger.Info().Msg("session ended")
}

func (s *session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("unexpected close")
			}
			return
		}

		var op Operation
		if err := json.Unmarshal(msg, &op); err != nil {
			s.logger.Error().Err(err).Msg("could not parse operation")
			s.fail("", err)
			continue
		}
		s.handle(op)
	}
}

func (s *session) handle(op Operation) {
	if in, ok := op.Input(); ok {
		s.agg.Handle(in)
		return
	}

	switch op.Type {
	case opSend:
		s.sendMessage(op.Text)
	case opPrefs:
		s.savePrefs(op.Type, prefs.Preferences{Font: op.Font, FontSize: op.FontSize})
	case opToggleFont:
		s.savePrefs(op.Type, s.prefs.ToggleFont())
	case opResize:
		s.savePrefs(op.Type, s.prefs.Resize(op.Steps))
	default:
		s.fail(op.Type, errUnknownOp)
	}
}

// sendMessage appends text to the feed and clears the participant's live
// text.
func (s *session) sendMessage(text string) {
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()

	if _, err := s.app.feed.Append(ctx, feed.Message{UserID: s.self, Text: text}); err != nil {
		s.logger.Error().Err(err).Msg("failed to append message")
		s.fail(opSend, err)
		return
	}
	s.agg.Handle(typing.Content("", 0, 0))
}

func (s *session) savePrefs(op string, p prefs.Preferences) {
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()

	saved, err := s.app.prefs.Save(ctx, s.self, p)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to save preferences")
		s.fail(op, err)
		return
	}
	s.prefs = saved
	s.send(Event{Type: evPrefs, Payload: preferencesResponse(saved)})
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case ev := <-s.egress:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				s.logger.Error().Err(err).Msg("failed to write event")
				s.cancel()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Error().Err(err).Msg("failed to ping client")
				s.cancel()
				return
			}
		}
	}
}

// socketDisplay forwards rendered frames to the browser.
type socketDisplay struct {
	s *session
}

func (d socketDisplay) Render(f typing.Frame) {
	d.s.send(Event{Type: evTyping, Payload: frameResponse(f)})
}

func (d socketDisplay) ScrollToBottom() {
	d.s.send(Event{Type: evScroll})
}
