package prefs

import (
	"context"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/ssau-fiit/livetype-api/typing"
	"reflect"
	"testing"
	"time"
)

func ok(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func eq(t *testing.T, got, want interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestNormalize(t *testing.T) {
	eq(t, Preferences{}.Normalize(), Default())
	eq(t, Preferences{Font: "comic", FontSize: 100}.Normalize(), Preferences{Font: FontMonospace, FontSize: MaxFontSize})
	eq(t, Preferences{Font: FontNoto, FontSize: 2}.Normalize(), Preferences{Font: FontNoto, FontSize: MinFontSize})
}

func TestToggleFont(t *testing.T) {
	p := Default().ToggleFont()
	eq(t, p.Font, FontNoto)
	eq(t, p.Direction(), "rtl")
	eq(t, p.Family(), "'Noto Nastaliq Urdu', serif")
	p = p.ToggleFont()
	eq(t, p.Font, FontMonospace)
	eq(t, p.Direction(), "ltr")
}

func TestResize(t *testing.T) {
	p := Default()
	eq(t, p.Resize(1).FontSize, 22)
	eq(t, p.Resize(-1).FontSize, 18)
	eq(t, p.Resize(10).FontSize, MaxFontSize)
	eq(t, p.Resize(-10).FontSize, MinFontSize)
	eq(t, p.Resize(-3).FontSize, MinFontSize)
	eq(t, p.Resize(-4).FontSize, MinFontSize)
	eq(t, Preferences{FontSize: 16}.Resize(-8).FontSize, MinFontSize)
	eq(t, Preferences{}.Resize(1).FontSize, 22)
}

func TestStyle(t *testing.T) {
	eq(t, Default().Style(), typing.DefaultStyle())
	eq(t, Preferences{Font: FontNoto, FontSize: 24}.Style(), typing.Style{
		FontFamily: "'Noto Nastaliq Urdu', serif",
		FontSize:   24,
		Direction:  "rtl",
	})
}

func TestDecodeHash(t *testing.T) {
	p, err := decode(map[string]string{"font": "noto", "fontSize": "26", "timestamp": "99"})
	ok(t, err)
	eq(t, p, Preferences{Font: FontNoto, FontSize: 26, Timestamp: 99})

	p, err = decode(map[string]string{"font": "noto", "fontSize": "huge"})
	eq(t, err != nil, true)
	eq(t, p, Default())
}

func newRedisStore(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { rdb.Close() })
	return NewRedis(rdb)
}

func forEachStore(t *testing.T, f func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { f(t, NewMemory()) })
	t.Run("redis", func(t *testing.T) { f(t, newRedisStore(t)) })
}

func TestLoadDefaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		p, err := s.Load(context.Background(), "user1")
		ok(t, err)
		eq(t, p, Default())
	})
}

func TestSaveLoad(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		saved, err := s.Save(ctx, "user1", Preferences{Font: FontNoto, FontSize: 40})
		ok(t, err)
		eq(t, saved.FontSize, MaxFontSize)
		eq(t, saved.Timestamp > 0, true)

		p, err := s.Load(ctx, "user1")
		ok(t, err)
		eq(t, p, saved)

		other, err := s.Load(ctx, "user2")
		ok(t, err)
		eq(t, other, Default())
	})
}

func TestSubscribe(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ch := make(chan Preferences, 16)
		sub := s.Subscribe("user2", func(p Preferences) { ch <- p })
		defer sub.Unsubscribe()

		wait := func(font string) {
			t.Helper()
			deadline := time.After(2 * time.Second)
			for {
				select {
				case p := <-ch:
					if p.Font == font {
						return
					}
				case <-deadline:
					t.Fatalf("timed out waiting for font %q", font)
				}
			}
		}

		wait(FontMonospace)
		_, err := s.Save(context.Background(), "user2", Preferences{Font: FontNoto, FontSize: 20})
		ok(t, err)
		wait(FontNoto)
	})
}

func TestLoadOrDefault(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eq(t, LoadOrDefault(ctx, NewMemory(), "user1"), Default())
}
