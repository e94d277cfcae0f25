package typing

import (
	"context"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"
	"testing"
	"time"
)

func fatalf(t *testing.T, format string, v ...interface{}) {
	t.Helper()
	debug.PrintStack()
	t.Fatalf(format, v...)
}

func ok(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		fatalf(t, "unexpected error: %v", err)
	}
}

func eq(t *testing.T, got, want interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		fatalf(t, "got %#v, want %#v", got, want)
	}
}

// fakeClock fires timers only when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// Advance moves time forward by d, firing due timers in order. Timers
// scheduled by a firing callback run too if they fall inside the window.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var next *fakeTimer
		for i, t := range c.timers {
			if t.stopped {
				continue
			}
			if !t.at.After(target) {
				next = t
				c.timers = append(c.timers[:i], c.timers[i+1:]...)
			}
			break
		}
		if next == nil {
			c.now = target
			c.timers = pruneStopped(c.timers)
			c.mu.Unlock()
			return
		}
		next.stopped = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

func pruneStopped(ts []*fakeTimer) []*fakeTimer {
	out := ts[:0]
	for _, t := range ts {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

type publishCall struct {
	owner string
	state *TypingState
}

// recordingStore keeps every Publish call and the resulting records.
type recordingStore struct {
	mu      sync.Mutex
	calls   []publishCall
	records map[string]TypingState
	err     error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{records: make(map[string]TypingState)}
}

func (s *recordingStore) Publish(_ context.Context, owner string, state *TypingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cp *TypingState
	if state != nil {
		v := *state
		cp = &v
	}
	s.calls = append(s.calls, publishCall{owner: owner, state: cp})
	if s.err != nil {
		return s.err
	}
	if state == nil {
		delete(s.records, owner)
	} else {
		s.records[owner] = *state
	}
	return nil
}

func (s *recordingStore) Subscribe(peer string, onChange func(Snapshot)) Subscription {
	snap, _ := s.LoadOnce(context.Background(), peer)
	onChange(snap)
	return SubscriptionFunc(func() {})
}

func (s *recordingStore) LoadOnce(_ context.Context, owner string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Absent(), s.err
	}
	if st, ok := s.records[owner]; ok {
		return Present(st), nil
	}
	return Absent(), nil
}

func (s *recordingStore) Calls() []publishCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishCall(nil), s.calls...)
}

// recordingDisplay keeps every frame it was asked to render.
type recordingDisplay struct {
	mu      sync.Mutex
	frames  []Frame
	scrolls int
}

func (d *recordingDisplay) Render(f Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, f)
}

func (d *recordingDisplay) ScrollToBottom() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrolls++
}

func (d *recordingDisplay) last() Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames[len(d.frames)-1]
}
