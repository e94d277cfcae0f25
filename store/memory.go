package store

import (
	"context"
	"github.com/ssau-fiit/livetype-api/fanout"
	"github.com/ssau-fiit/livetype-api/typing"
	"sync"
)

// Memory is an in-process typing store. Both participants must share the
// same instance.
type Memory struct {
	mu      sync.Mutex
	records map[string]typing.TypingState
	subs    map[string]map[*memorySub]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]typing.TypingState),
		subs:    make(map[string]map[*memorySub]struct{}),
	}
}

func (m *Memory) Publish(ctx context.Context, owner string, state *typing.TypingState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := typing.Absent()
	if state != nil {
		s := state.Clamp()
		m.records[owner] = s
		snap = typing.Present(s)
	} else {
		delete(m.records, owner)
	}
	for sub := range m.subs[owner] {
		sub.queue.Push(snap)
	}
	return nil
}

func (m *Memory) Subscribe(peer string, onChange func(typing.Snapshot)) typing.Subscription {
	sub := &memorySub{m: m, key: peer, queue: fanout.NewQueue(onChange, false)}

	m.mu.Lock()
	defer m.mu.Unlock()
	sub.queue.Push(m.snapshotLocked(peer))
	if m.subs[peer] == nil {
		m.subs[peer] = make(map[*memorySub]struct{})
	}
	m.subs[peer][sub] = struct{}{}
	return sub
}

func (m *Memory) LoadOnce(ctx context.Context, owner string) (typing.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return typing.Absent(), err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(owner), nil
}

func (m *Memory) snapshotLocked(key string) typing.Snapshot {
	if s, ok := m.records[key]; ok {
		return typing.Present(s)
	}
	return typing.Absent()
}

type memorySub struct {
	m     *Memory
	key   string
	queue *fanout.Queue[typing.Snapshot]
	once  sync.Once
}

func (s *memorySub) Unsubscribe() {
	s.once.Do(func() {
		s.m.mu.Lock()
		delete(s.m.subs[s.key], s)
		if len(s.m.subs[s.key]) == 0 {
			delete(s.m.subs, s.key)
		}
		s.m.mu.Unlock()
		s.queue.Close()
	})
}
