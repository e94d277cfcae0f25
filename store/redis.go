package store

import (
	"context"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/ssau-fiit/livetype-api/typing"
	"strconv"
	"strings"
	"sync"
)

// publishScript bumps the key's revision, writes or deletes the record and
// announces "<rev>:S<payload>" or "<rev>:D" on the key's channel, all in
// one atomic step.
var publishScript = redis.NewScript(`
local rev = redis.call('INCR', KEYS[2])
if ARGV[2] == 'S' then
	redis.call('SET', KEYS[1], ARGV[3])
else
	redis.call('DEL', KEYS[1])
end
redis.call('PUBLISH', ARGV[1], rev .. ':' .. ARGV[2] .. ARGV[3])
return rev
`)

const (
	opSet    = "S"
	opDelete = "D"
)

// Redis keeps typing records under "typing.<id>" and notifies subscribers
// through the channel of the same name.
type Redis struct {
	rdb redis.UniversalClient
}

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

func recordKey(id string) string {
	return fmt.Sprintf("typing.%v", id)
}

func revisionKey(id string) string {
	return fmt.Sprintf("typing.%v.rev", id)
}

func channel(id string) string {
	return fmt.Sprintf("typing.%v", id)
}

func (r *Redis) Publish(ctx context.Context, owner string, state *typing.TypingState) error {
	op, payload := opDelete, []byte{}
	if state != nil {
		op, payload = opSet, Encode(state.Clamp())
	}
	err := publishScript.Run(ctx, r.rdb,
		[]string{recordKey(owner), revisionKey(owner)},
		channel(owner), op, payload,
	).Err()
	if err != nil {
		return wrapError("publish typing state", err)
	}
	return nil
}

func (r *Redis) LoadOnce(ctx context.Context, owner string) (typing.Snapshot, error) {
	snap, _, err := r.load(ctx, owner)
	return snap, err
}

func (r *Redis) load(ctx context.Context, owner string) (typing.Snapshot, uint64, error) {
	vals, err := r.rdb.MGet(ctx, recordKey(owner), revisionKey(owner)).Result()
	if err != nil {
		return typing.Absent(), 0, wrapError("load typing state", err)
	}

	var rev uint64
	if s, ok := vals[1].(string); ok {
		rev, _ = strconv.ParseUint(s, 10, 64)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return typing.Absent(), rev, nil
	}
	return decodeSnapshot(owner, []byte(raw)), rev, nil
}

func decodeSnapshot(owner string, raw []byte) typing.Snapshot {
	rec, err := Decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("owner", owner).Msg("malformed typing record, using defaults")
	}
	return typing.Present(rec.Normalize())
}

// parseNotification splits a channel payload into revision and snapshot.
func parseNotification(owner, payload string) (uint64, typing.Snapshot, error) {
	revStr, rest, found := strings.Cut(payload, ":")
	if !found || rest == "" {
		return 0, typing.Absent(), fmt.Errorf("bad typing notification %q", payload)
	}
	rev, err := strconv.ParseUint(revStr, 10, 64)
	if err != nil {
		return 0, typing.Absent(), fmt.Errorf("bad typing revision %q: %w", revStr, err)
	}
	switch rest[:1] {
	case opDelete:
		return rev, typing.Absent(), nil
	case opSet:
		return rev, decodeSnapshot(owner, []byte(rest[1:])), nil
	}
	return 0, typing.Absent(), fmt.Errorf("bad typing operation %q", rest[:1])
}

func (r *Redis) Subscribe(peer string, onChange func(typing.Snapshot)) typing.Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	go r.watch(ctx, peer, onChange)
	return typing.SubscriptionFunc(func() {
		once.Do(cancel)
	})
}

func (r *Redis) watch(ctx context.Context, peer string, onChange func(typing.Snapshot)) {
	logger := log.With().Str("peer", peer).Logger()
	deliver := func(s typing.Snapshot) {
		if ctx.Err() == nil {
			onChange(s)
		}
	}

	pubsub := r.rdb.Subscribe(ctx, channel(peer))
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so nothing written after
	// the initial read is missed.
	var last uint64
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn().Err(err).Msg("typing subscription not confirmed")
		deliver(typing.Absent())
	} else {
		snap, rev, err := r.load(ctx, peer)
		if err != nil {
			logger.Warn().Err(err).Msg("could not read initial typing state")
		}
		last = rev
		deliver(snap)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			rev, snap, err := parseNotification(peer, msg.Payload)
			if err != nil {
				logger.Warn().Err(err).Msg("dropping typing notification")
				continue
			}
			if rev <= last {
				continue
			}
			last = rev
			deliver(snap)
		}
	}
}

// wrapError marks replies the server refused (permissions, wrong types,
// script errors) as rejected. Everything else is left transient.
func wrapError(op string, err error) error {
	var rerr redis.Error
	if errors.As(err, &rerr) && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w: %w", op, typing.ErrRejected, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
