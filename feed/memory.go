package feed

import (
	"context"
	"github.com/ssau-fiit/livetype-api/fanout"
	"github.com/ssau-fiit/livetype-api/typing"
	"sync"
	"time"
)

type Memory struct {
	mu       sync.Mutex
	messages []Message
	subs     map[*fanout.Queue[[]Message]]struct{}
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[*fanout.Queue[[]Message]]struct{})}
}

func (f *Memory) Append(ctx context.Context, m Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return m, err
	}
	m, err := prepare(m, time.Now())
	if err != nil {
		return m, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	sortMessages(f.messages)
	for q := range f.subs {
		q.Push(f.copyLocked())
	}
	return m, nil
}

func (f *Memory) List(ctx context.Context) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copyLocked(), nil
}

func (f *Memory) Subscribe(onSnapshot func([]Message)) typing.Subscription {
	q := fanout.NewQueue(onSnapshot, true)

	f.mu.Lock()
	q.Push(f.copyLocked())
	f.subs[q] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return typing.SubscriptionFunc(func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, q)
			f.mu.Unlock()
			q.Close()
		})
	})
}

func (f *Memory) copyLocked() []Message {
	return append([]Message{}, f.messages...)
}
