package feed

import (
	"context"
	"fmt"
	"github.com/rs/zerolog/log"
	"github.com/ssau-fiit/livetype-api/typing"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"sync"
	"time"
)

const defaultPollInterval = time.Second

// Mongo keeps messages in a collection. Subscribers follow a change stream
// when the deployment supports one and poll otherwise.
type Mongo struct {
	coll         *mongo.Collection
	pollInterval time.Duration
}

func NewMongo(db *mongo.Database, collection string) *Mongo {
	return &Mongo{coll: db.Collection(collection), pollInterval: defaultPollInterval}
}

func (f *Mongo) Append(ctx context.Context, m Message) (Message, error) {
	m, err := prepare(m, time.Now())
	if err != nil {
		return m, err
	}
	if _, err := f.coll.InsertOne(ctx, m); err != nil {
		return m, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

func (f *Mongo) List(ctx context.Context) ([]Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "id", Value: 1}})
	cursor, err := f.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cursor.Close(ctx)

	msgs := []Message{}
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

func (f *Mongo) Subscribe(onSnapshot func([]Message)) typing.Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	go f.watch(ctx, onSnapshot)
	return typing.SubscriptionFunc(func() {
		once.Do(cancel)
	})
}

func (f *Mongo) watch(ctx context.Context, onSnapshot func([]Message)) {
	var last []Message
	deliver := func(force bool) {
		msgs, err := f.List(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("could not read messages")
			}
			return
		}
		if ctx.Err() != nil || (!force && sameLog(last, msgs)) {
			return
		}
		last = msgs
		onSnapshot(msgs)
	}

	stream, err := f.coll.Watch(ctx, mongo.Pipeline{})
	deliver(true)
	if err == nil {
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			deliver(false)
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(stream.Err()).Msg("message change stream ended, polling instead")
	} else if ctx.Err() == nil {
		log.Info().Err(err).Msg("change streams unavailable, polling messages")
	}

	t := time.NewTicker(f.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			deliver(false)
		}
	}
}

// sameLog compares two ordered logs. The log is append-only, so length and
// last id are enough.
func sameLog(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || a[len(a)-1].ID == b[len(b)-1].ID
}
