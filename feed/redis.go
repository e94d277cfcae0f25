package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/ssau-fiit/livetype-api/typing"
	"sync"
	"time"
)

const (
	messagesKey     = "messages"
	messagesChannel = "messages"
)

// Redis stores messages as JSON members of a sorted set scored by
// timestamp and announces appends on the "messages" channel.
type Redis struct {
	rdb redis.UniversalClient
}

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

func (f *Redis) Append(ctx context.Context, m Message) (Message, error) {
	m, err := prepare(m, time.Now())
	if err != nil {
		return m, err
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("encode message: %w", err)
	}

	_, err = f.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, messagesKey, redis.Z{Score: float64(m.Timestamp), Member: buf})
		pipe.Publish(ctx, messagesChannel, m.ID)
		return nil
	})
	if err != nil {
		return m, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

func (f *Redis) List(ctx context.Context) ([]Message, error) {
	members, err := f.rdb.ZRange(ctx, messagesKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs := make([]Message, 0, len(members))
	for _, member := range members {
		var m Message
		if err := json.Unmarshal([]byte(member), &m); err != nil {
			log.Warn().Err(err).Msg("skipping malformed message")
			continue
		}
		msgs = append(msgs, m)
	}
	sortMessages(msgs)
	return msgs, nil
}

func (f *Redis) Subscribe(onSnapshot func([]Message)) typing.Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	go f.watch(ctx, onSnapshot)
	return typing.SubscriptionFunc(func() {
		once.Do(cancel)
	})
}

func (f *Redis) watch(ctx context.Context, onSnapshot func([]Message)) {
	pubsub := f.rdb.Subscribe(ctx, messagesChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("message subscription not confirmed")
	}

	deliver := func() {
		msgs, err := f.List(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("could not read messages")
			}
			return
		}
		if ctx.Err() == nil {
			onSnapshot(msgs)
		}
	}
	deliver()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			deliver()
		}
	}
}
