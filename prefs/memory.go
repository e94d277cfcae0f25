package prefs

import (
	"context"
	"github.com/ssau-fiit/livetype-api/fanout"
	"github.com/ssau-fiit/livetype-api/typing"
	"sync"
	"time"
)

type Memory struct {
	mu    sync.Mutex
	prefs map[string]Preferences
	subs  map[string]map[*fanout.Queue[Preferences]]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		prefs: make(map[string]Preferences),
		subs:  make(map[string]map[*fanout.Queue[Preferences]]struct{}),
	}
}

func (m *Memory) Load(ctx context.Context, owner string) (Preferences, error) {
	if err := ctx.Err(); err != nil {
		return Default(), err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(owner), nil
}

func (m *Memory) loadLocked(owner string) Preferences {
	if p, ok := m.prefs[owner]; ok {
		return p
	}
	return Default()
}

func (m *Memory) Save(ctx context.Context, owner string, p Preferences) (Preferences, error) {
	if err := ctx.Err(); err != nil {
		return p, err
	}
	p = p.Normalize()
	p.Timestamp = time.Now().UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[owner] = p
	for q := range m.subs[owner] {
		q.Push(p)
	}
	return p, nil
}

func (m *Memory) Subscribe(owner string, onChange func(Preferences)) typing.Subscription {
	q := fanout.NewQueue(onChange, true)

	m.mu.Lock()
	q.Push(m.loadLocked(owner))
	if m.subs[owner] == nil {
		m.subs[owner] = make(map[*fanout.Queue[Preferences]]struct{})
	}
	m.subs[owner][q] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return typing.SubscriptionFunc(func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[owner], q)
			m.mu.Unlock()
			q.Close()
		})
	})
}
