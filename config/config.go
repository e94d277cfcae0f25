// Package config loads service settings from an optional JSON file and the
// environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/mitchellh/mapstructure"
	"os"
	"strconv"
	"time"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

var (
	ErrUnknownBackend = errors.New("unknown backend")
	ErrParticipants   = errors.New("self and peer must be two different non-empty ids")
)

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoConfig struct {
	URI                string `mapstructure:"uri"`
	Database           string `mapstructure:"database"`
	MessagesCollection string `mapstructure:"messagesCollection"`
}

type TypingConfig struct {
	ContentDelay     time.Duration `mapstructure:"contentDelay"`
	SelectionDelay   time.Duration `mapstructure:"selectionDelay"`
	MinInterval      time.Duration `mapstructure:"minInterval"`
	AutoSaveInterval time.Duration `mapstructure:"autoSaveInterval"`
	PublishTimeout   time.Duration `mapstructure:"publishTimeout"`
	// StaleAfter of zero keeps a peer's record on screen until it changes.
	StaleAfter time.Duration `mapstructure:"staleAfter"`
}

type DiscoveryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type Config struct {
	Addr string `mapstructure:"addr"`
	Self string `mapstructure:"self"`
	Peer string `mapstructure:"peer"`

	// Store selects the typing and preference backend, Feed the message
	// backend.
	Store string `mapstructure:"store"`
	Feed  string `mapstructure:"feed"`

	// ConnectTimeout bounds the startup retries against each database.
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`

	Redis     RedisConfig     `mapstructure:"redis"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Typing    TypingConfig    `mapstructure:"typing"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Log       LogConfig       `mapstructure:"log"`
}

func Default() Config {
	return Config{
		Addr:           "0.0.0.0:8080",
		Self:           "user1",
		Peer:           "user2",
		Store:          BackendRedis,
		Feed:           BackendRedis,
		ConnectTimeout: 30 * time.Second,
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Mongo: MongoConfig{
			URI:                "mongodb://localhost:27017",
			Database:           "livetype",
			MessagesCollection: "messages",
		},
		Typing: TypingConfig{
			ContentDelay:     0,
			SelectionDelay:   25 * time.Millisecond,
			MinInterval:      50 * time.Millisecond,
			AutoSaveInterval: 5 * time.Second,
			PublishTimeout:   5 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Instance: "livetype",
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads the JSON file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(file, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decode(file []byte, cfg *Config) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(file, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LIVETYPE_ADDR":  &cfg.Addr,
		"LIVETYPE_SELF":  &cfg.Self,
		"LIVETYPE_PEER":  &cfg.Peer,
		"LIVETYPE_STORE": &cfg.Store,
		"LIVETYPE_FEED":  &cfg.Feed,
		"REDIS_ADDR":     &cfg.Redis.Addr,
		"REDIS_PASSWORD": &cfg.Redis.Password,
		"MONGO_URI":      &cfg.Mongo.URI,
		"LOG_LEVEL":      &cfg.Log.Level,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	if v, ok := lookup("LIVETYPE_DISCOVERY"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LIVETYPE_DISCOVERY: %w", err)
		}
		cfg.Discovery.Enabled = enabled
	}
	return nil
}

func (c Config) Validate() error {
	if c.Self == "" || c.Peer == "" || c.Self == c.Peer {
		return ErrParticipants
	}
	switch c.Store {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("store %q: %w", c.Store, ErrUnknownBackend)
	}
	switch c.Feed {
	case BackendMemory, BackendRedis, BackendMongo:
	default:
		return fmt.Errorf("feed %q: %w", c.Feed, ErrUnknownBackend)
	}
	return nil
}
