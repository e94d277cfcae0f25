package typing

import (
	"sync"
	"time"
)

// Display receives rendered frames.
type Display interface {
	Render(f Frame)
	ScrollToBottom()
}

// Renderer draws the peer's latest snapshot onto a Display. Each snapshot
// replaces the previous frame entirely.
type Renderer struct {
	display    Display
	clock      Clock
	staleAfter time.Duration

	mu         sync.Mutex
	style      Style
	snapshot   Snapshot
	frame      Frame
	expiry     Timer
	generation uint64
	stopped    bool
}

// NewRenderer returns a renderer in the idle state. A positive staleAfter
// makes records older than that render as idle.
func NewRenderer(display Display, clock Clock, staleAfter time.Duration) *Renderer {
	if clock == nil {
		clock = SystemClock{}
	}
	r := &Renderer{
		display:    display,
		clock:      clock,
		staleAfter: staleAfter,
		style:      DefaultStyle(),
	}
	r.frame = r.styled(Render(Absent()))
	return r
}

// Apply renders s and pushes the result to the display.
func (r *Renderer) Apply(s Snapshot) Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return r.frame
	}
	r.generation++
	if r.expiry != nil {
		r.expiry.Stop()
		r.expiry = nil
	}
	r.snapshot = r.checkStaleLocked(s)
	return r.drawLocked()
}

// SetStyle redraws the current snapshot with st.
func (r *Renderer) SetStyle(st Style) Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.style = st
	if r.stopped {
		return r.frame
	}
	return r.drawLocked()
}

// Showing reports whether the peer is currently rendered as typing.
func (r *Renderer) Showing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.frame.Idle
}

func (r *Renderer) Frame() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}

func (r *Renderer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.expiry != nil {
		r.expiry.Stop()
		r.expiry = nil
	}
}

func (r *Renderer) drawLocked() Frame {
	r.frame = r.styled(Render(r.snapshot))
	if r.display != nil {
		r.display.Render(r.frame)
		r.display.ScrollToBottom()
	}
	return r.frame
}

// checkStaleLocked turns an already expired record into Absent and arms the
// expiry timer for a fresh one. Records without a timestamp never expire.
func (r *Renderer) checkStaleLocked(s Snapshot) Snapshot {
	state, _ := s.State()
	if r.staleAfter <= 0 || s.Idle() || state.Timestamp == 0 {
		return s
	}
	age := r.clock.Now().Sub(state.Time())
	if age >= r.staleAfter {
		return Absent()
	}
	gen := r.generation
	r.expiry = r.clock.AfterFunc(r.staleAfter-age, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.stopped || r.generation != gen {
			return
		}
		r.expiry = nil
		r.snapshot = Absent()
		r.drawLocked()
	})
	return s
}

func (r *Renderer) styled(f Frame) Frame {
	f.Style = r.style
	return f
}
