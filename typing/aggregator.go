package typing

import (
	"context"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"sync"
	"time"
)

type InputKind int

const (
	ContentChanged InputKind = iota
	CaretMoved
	SelectionChanged
)

func (k InputKind) String() string {
	switch k {
	case ContentChanged:
		return "content"
	case CaretMoved:
		return "caret"
	case SelectionChanged:
		return "selection"
	}
	return "unknown"
}

// Input is a raw local input event. Every event carries the full text and
// selection as they were when it fired.
type Input struct {
	Kind           InputKind
	Text           string
	SelectionStart int
	SelectionEnd   int
}

func Content(text string, start, end int) Input {
	return Input{Kind: ContentChanged, Text: text, SelectionStart: start, SelectionEnd: end}
}

func Caret(text string, pos int) Input {
	return Input{Kind: CaretMoved, Text: text, SelectionStart: pos, SelectionEnd: pos}
}

func Selection(text string, start, end int) Input {
	return Input{Kind: SelectionChanged, Text: text, SelectionStart: start, SelectionEnd: end}
}

type AggregatorConfig struct {
	// ContentDelay and SelectionDelay are the debounce delays per event
	// class. Zero publishes synchronously.
	ContentDelay   time.Duration
	SelectionDelay time.Duration
	// MinInterval is the floor between two accepted publishes. Attempts
	// inside the window are dropped.
	MinInterval time.Duration
	// AutoSaveInterval re-publishes non-empty content periodically. Zero
	// disables it.
	AutoSaveInterval time.Duration
	PublishTimeout   time.Duration
}

func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		ContentDelay:     0,
		SelectionDelay:   25 * time.Millisecond,
		MinInterval:      50 * time.Millisecond,
		AutoSaveInterval: 5 * time.Second,
		PublishTimeout:   5 * time.Second,
	}
}

// Aggregator turns bursty local input into a rate-limited stream of
// TypingState writes for a single owner.
type Aggregator struct {
	owner  string
	store  Store
	clock  Clock
	cfg    AggregatorConfig
	logger zerolog.Logger

	mu          sync.Mutex
	current     Input
	lastStart   int
	lastEnd     int
	lastPublish time.Time
	published   bool
	pending     Timer
	generation  uint64
	autosave    Timer
	closed      bool

	out *outbox
}

func NewAggregator(owner string, store Store, clock Clock, cfg AggregatorConfig) *Aggregator {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultAggregatorConfig().PublishTimeout
	}
	a := &Aggregator{
		owner:  owner,
		store:  store,
		clock:  clock,
		cfg:    cfg,
		logger: log.With().Str("owner", owner).Logger(),
		out:    newOutbox(),
	}
	go a.writeLoop()

	a.mu.Lock()
	a.scheduleAutoSaveLocked()
	a.mu.Unlock()
	return a
}

func (a *Aggregator) Owner() string {
	return a.owner
}

// Handle feeds one local input event through suppression, debounce and
// throttle.
func (a *Aggregator) Handle(in Input) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.current = in

	if in.Kind != ContentChanged && in.SelectionStart == a.lastStart && in.SelectionEnd == a.lastEnd {
		return
	}

	if a.pending != nil {
		a.pending.Stop()
		a.pending = nil
	}
	a.generation++

	delay := a.cfg.SelectionDelay
	if in.Kind == ContentChanged {
		delay = a.cfg.ContentDelay
	}
	if delay <= 0 {
		a.attemptLocked(in)
		return
	}

	gen := a.generation
	a.pending = a.clock.AfterFunc(delay, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed || a.generation != gen {
			return
		}
		a.pending = nil
		a.attemptLocked(in)
	})
}

// Restore reads the owner's last record and, if it had content, makes it
// the current input and publishes it again. It returns the restored text.
func (a *Aggregator) Restore(ctx context.Context) string {
	snap, err := a.store.LoadOnce(ctx, a.owner)
	if err != nil {
		a.logger.Warn().Err(err).Str("failure", Classify(err).String()).Msg("could not restore typing state")
		return ""
	}
	s, ok := snap.State()
	if !ok || s.Text == "" {
		return ""
	}
	n := Length(s.Text)
	a.Handle(Content(s.Text, n, n))
	return s.Text
}

// Flush blocks until every accepted publish has been handed to the store.
func (a *Aggregator) Flush() {
	a.out.waitIdle()
}

// Close stops the timers, drains pending writes and then makes a best
// effort to delete the owner's record within ctx.
func (a *Aggregator) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.generation++
	if a.pending != nil {
		a.pending.Stop()
		a.pending = nil
	}
	if a.autosave != nil {
		a.autosave.Stop()
		a.autosave = nil
	}
	a.mu.Unlock()

	a.out.close()

	if err := a.store.Publish(ctx, a.owner, nil); err != nil {
		a.logger.Warn().Err(err).Str("failure", Classify(err).String()).Msg("final typing cleanup failed")
		return err
	}
	return nil
}

func (a *Aggregator) attemptLocked(in Input) bool {
	now := a.clock.Now()
	if a.published && now.Sub(a.lastPublish) < a.cfg.MinInterval {
		a.logger.Trace().Stringer("kind", in.Kind).Msg("publish dropped by rate limit")
		return false
	}
	a.published = true
	a.lastPublish = now
	a.lastStart, a.lastEnd = in.SelectionStart, in.SelectionEnd

	a.out.put(stateFor(in, now))
	return true
}

func (a *Aggregator) scheduleAutoSaveLocked() {
	if a.cfg.AutoSaveInterval <= 0 || a.closed {
		return
	}
	a.autosave = a.clock.AfterFunc(a.cfg.AutoSaveInterval, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return
		}
		if a.current.Text != "" {
			a.attemptLocked(a.current)
		}
		a.scheduleAutoSaveLocked()
	})
}

// stateFor builds the record to write for in; nil means delete.
func stateFor(in Input, now time.Time) *TypingState {
	if in.Text == "" {
		return nil
	}
	s := TypingState{
		IsTyping:       true,
		Text:           in.Text,
		CursorPosition: in.SelectionStart,
		SelectionStart: in.SelectionStart,
		SelectionEnd:   in.SelectionEnd,
		Timestamp:      now.UnixMilli(),
	}.Clamp()
	return &s
}

func (a *Aggregator) writeLoop() {
	for {
		state, ok := a.out.next()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.PublishTimeout)
		err := a.store.Publish(ctx, a.owner, state)
		cancel()
		if err != nil {
			a.logger.Warn().Err(err).Str("failure", Classify(err).String()).Msg("typing publish failed")
		}
		a.out.done()
	}
}

// outbox hands states from the input path to the single writer goroutine.
// It holds at most one pending state; a newer one replaces it.
type outbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *TypingState
	queued  bool
	busy    bool
	closed  bool
	stopped chan struct{}
}

func newOutbox() *outbox {
	o := &outbox{stopped: make(chan struct{})}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *outbox) put(s *TypingState) {
	o.mu.Lock()
	o.pending, o.queued = s, true
	o.cond.Broadcast()
	o.mu.Unlock()
}

func (o *outbox) next() (*TypingState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for !o.queued && !o.closed {
		o.cond.Wait()
	}
	if !o.queued {
		close(o.stopped)
		return nil, false
	}
	s := o.pending
	o.pending, o.queued = nil, false
	o.busy = true
	return s, true
}

func (o *outbox) done() {
	o.mu.Lock()
	o.busy = false
	o.cond.Broadcast()
	o.mu.Unlock()
}

func (o *outbox) waitIdle() {
	o.mu.Lock()
	for o.queued || o.busy {
		o.cond.Wait()
	}
	o.mu.Unlock()
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.cond.Broadcast()
	o.mu.Unlock()
	<-o.stopped
}
