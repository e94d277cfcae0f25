package database

import (
	"context"
	"fmt"
	"github.com/cenkalti/backoff"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/ssau-fiit/livetype-api/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"time"
)

const pingTimeout = 5 * time.Second

// retry runs op with exponential backoff until it succeeds, ctx is done or
// maxElapsed passes.
func retry(ctx context.Context, what string, maxElapsed time.Duration, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		err := op(ctx)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msgf("could not connect to %s", what)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// Redis connects to the configured Redis server and waits until it answers
// PING.
func Redis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	err := retry(ctx, "redis", cfg.ConnectTimeout, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")
	return rdb, nil
}

// Mongo connects to the configured MongoDB deployment and returns the
// service database.
func Mongo(ctx context.Context, cfg config.Config) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	err = retry(ctx, "mongo", cfg.ConnectTimeout, func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("connected to mongo")
	return client.Database(cfg.Mongo.Database), nil
}
