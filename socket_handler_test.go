package main

import (
	"context"
	"encoding/json"
	"github.com/gorilla/websocket"
	"github.com/ssau-fiit/livetype-api/typing"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, user, peer string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/ws?user=" + user + "&peer=" + peer
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	ok(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(op Operation) {
	c.t.Helper()
	ok(c.t, c.conn.WriteJSON(op))
}

// waitFor reads events until match accepts one.
func (c *client) waitFor(typ string, match func(json.RawMessage) bool) {
	c.t.Helper()
	ok(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev wireEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			c.t.Fatalf("waiting for %q: %v", typ, err)
		}
		if ev.Type == typ && (match == nil || match(ev.Payload)) {
			return
		}
	}
}

// waitAll reads events until every entry of want has matched once, in any
// order.
func (c *client) waitAll(want map[string]func(json.RawMessage) bool) {
	c.t.Helper()
	ok(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for len(want) > 0 {
		var ev wireEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			c.t.Fatalf("waiting for %d events: %v", len(want), err)
		}
		if match, found := want[ev.Type]; found && (match == nil || match(ev.Payload)) {
			delete(want, ev.Type)
		}
	}
}

func frameMatching(t *testing.T, want func(FrameResponse) bool) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var res FrameResponse
		if err := json.Unmarshal(raw, &res); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return want(res)
	}
}

func TestSocketRejectsSamePair(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestApp(t).App))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/ws?user=user1&peer=user1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	eq(t, resp.StatusCode, 400)
}

func TestSocketLiveTyping(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(newRouter(app.App))
	defer srv.Close()

	watcher := dial(t, srv, "user2", "user1")
	watcher.waitFor(evTyping, frameMatching(t, func(f FrameResponse) bool { return f.Frame.Idle }))

	typist := dial(t, srv, "user1", "user2")
	typist.waitFor(evPrefs, nil)

	typist.send(Operation{Type: opContent, Text: "hi <b>", SelectionStart: 6, SelectionEnd: 6})
	watcher.waitFor(evTyping, frameMatching(t, func(f FrameResponse) bool {
		return f.HTML == `hi &lt;b&gt;<span class="live-cursor"></span>`
	}))
	watcher.waitFor(evScroll, nil)

	typist.send(Operation{Type: opSelection, Text: "hi <b>", SelectionStart: 0, SelectionEnd: 2})
	watcher.waitFor(evTyping, frameMatching(t, func(f FrameResponse) bool {
		return f.HTML == `<span class="live-selection">hi</span> &lt;b&gt;`
	}))

	typist.send(Operation{Type: opToggleFont})
	watcher.waitFor(evPeerPrefs, nil)
	watcher.waitFor(evTyping, frameMatching(t, func(f FrameResponse) bool {
		return f.Frame.Style.Direction == "rtl"
	}))

	typist.conn.Close()
	watcher.waitFor(evTyping, frameMatching(t, func(f FrameResponse) bool { return f.Frame.Idle }))
}

func TestSocketRestoreAndSend(t *testing.T) {
	app := newTestApp(t)
	ok(t, app.store.Publish(context.Background(), "user1", &typing.TypingState{IsTyping: true, Text: "draft"}))

	srv := httptest.NewServer(newRouter(app.App))
	defer srv.Close()

	watcher := dial(t, srv, "user2", "user1")
	typist := dial(t, srv, "user1", "user2")
	typist.waitFor(evRestore, func(raw json.RawMessage) bool {
		var p RestorePayload
		ok(t, json.Unmarshal(raw, &p))
		return p.Text == "draft"
	})

	typist.send(Operation{Type: opSend, Text: "hello"})
	watcher.waitAll(map[string]func(json.RawMessage) bool{
		evMessages: func(raw json.RawMessage) bool {
			var res MessagesResponse
			ok(t, json.Unmarshal(raw, &res))
			return res.Foreign == "hello"
		},
		evTyping: frameMatching(t, func(f FrameResponse) bool { return f.Frame.Idle }),
	})

	typist.send(Operation{Type: "bogus"})
	typist.waitFor(evError, nil)
}
