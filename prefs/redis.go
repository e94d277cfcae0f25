package prefs

import (
	"context"
	"fmt"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/ssau-fiit/livetype-api/typing"
	"sync"
	"time"
)

// Redis keeps preferences in the hash "user_preferences.<id>" and
// announces saves on the channel of the same name.
type Redis struct {
	rdb redis.UniversalClient
}

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

func key(owner string) string {
	return fmt.Sprintf("user_preferences.%v", owner)
}

func (s *Redis) Load(ctx context.Context, owner string) (Preferences, error) {
	res, err := s.rdb.HGetAll(ctx, key(owner)).Result()
	if err != nil {
		return Default(), fmt.Errorf("load preferences: %w", err)
	}
	if len(res) == 0 {
		return Default(), nil
	}
	p, err := decode(res)
	if err != nil {
		return Default(), err
	}
	return p, nil
}

// decode turns a Redis hash, where every value is a string, into
// Preferences.
func decode(res map[string]string) (Preferences, error) {
	var p Preferences
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return Default(), err
	}
	if err := dec.Decode(res); err != nil {
		return Default(), fmt.Errorf("decode preferences: %w", err)
	}
	return p.Normalize(), nil
}

func (s *Redis) Save(ctx context.Context, owner string, p Preferences) (Preferences, error) {
	p = p.Normalize()
	p.Timestamp = time.Now().UnixMilli()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key(owner), "font", p.Font, "fontSize", p.FontSize, "timestamp", p.Timestamp)
		pipe.Publish(ctx, key(owner), p.Timestamp)
		return nil
	})
	if err != nil {
		return p, fmt.Errorf("save preferences: %w", err)
	}
	return p, nil
}

func (s *Redis) Subscribe(owner string, onChange func(Preferences)) typing.Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	go s.watch(ctx, owner, onChange)
	return typing.SubscriptionFunc(func() {
		once.Do(cancel)
	})
}

func (s *Redis) watch(ctx context.Context, owner string, onChange func(Preferences)) {
	pubsub := s.rdb.Subscribe(ctx, key(owner))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Str("owner", owner).Msg("preference subscription not confirmed")
	}

	deliver := func() {
		p := LoadOrDefault(ctx, s, owner)
		if ctx.Err() == nil {
			onChange(p)
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
