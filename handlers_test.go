package main

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/gin-gonic/gin"
	"github.com/ssau-fiit/livetype-api/config"
	"github.com/ssau-fiit/livetype-api/feed"
	"github.com/ssau-fiit/livetype-api/prefs"
	"github.com/ssau-fiit/livetype-api/store"
	"github.com/ssau-fiit/livetype-api/typing"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

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

type testApp struct {
	*App
	store *store.Memory
	feed  *feed.Memory
	prefs *prefs.Memory
}

func newTestApp(t *testing.T) testApp {
	t.Helper()
	cfg := config.Default()
	cfg.Store = config.BackendMemory
	cfg.Feed = config.BackendMemory
	cfg.Typing.SelectionDelay = 0
	cfg.Typing.MinInterval = 0
	cfg.Typing.AutoSaveInterval = 0

	ta := testApp{store: store.NewMemory(), feed: feed.NewMemory(), prefs: prefs.NewMemory()}
	ta.App = NewApp(cfg, ta.store, ta.feed, ta.prefs, nil)
	return ta
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		ok(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	ok(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	r := newRouter(newTestApp(t).App)
	w := do(t, r, http.MethodGet, "/api/v1/health", nil)
	eq(t, w.Code, http.StatusOK)
}

func TestTypingLifecycle(t *testing.T) {
	app := newTestApp(t)
	r := newRouter(app.App)

	w := do(t, r, http.MethodGet, "/api/v1/typing/user1", nil)
	eq(t, w.Code, http.StatusNotFound)

	w = do(t, r, http.MethodPut, "/api/v1/typing/user1", map[string]interface{}{
		"text":           "hello",
		"selectionStart": 1,
		"selectionEnd":   3,
	})
	eq(t, w.Code, http.StatusOK)

	w = do(t, r, http.MethodGet, "/api/v1/typing/user1", nil)
	eq(t, w.Code, http.StatusOK)
	var state typing.TypingState
	decode(t, w, &state)
	eq(t, state.Text, "hello")
	eq(t, state.IsTyping, true)
	eq(t, state.CursorPosition, 5)
	eq(t, state.SelectionStart, 1)
	eq(t, state.SelectionEnd, 3)
	eq(t, state.Timestamp > 0, true)

	w = do(t, r, http.MethodDelete, "/api/v1/typing/user1", nil)
	eq(t, w.Code, http.StatusNoContent)
	w = do(t, r, http.MethodGet, "/api/v1/typing/user1", nil)
	eq(t, w.Code, http.StatusNotFound)
}

func TestPutEmptyTextDeletes(t *testing.T) {
	app := newTestApp(t)
	r := newRouter(app.App)
	ok(t, app.store.Publish(context.Background(), "user1", &typing.TypingState{IsTyping: true, Text: "x"}))

	w := do(t, r, http.MethodPut, "/api/v1/typing/user1", map[string]interface{}{"text": ""})
	eq(t, w.Code, http.StatusNoContent)
	snap, err := app.store.LoadOnce(context.Background(), "user1")
	ok(t, err)
	eq(t, snap.IsPresent(), false)
}

func TestPutTypingBadBody(t *testing.T) {
	r := newRouter(newTestApp(t).App)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/typing/user1", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	eq(t, w.Code, http.StatusBadRequest)
}

func TestRenderTyping(t *testing.T) {
	app := newTestApp(t)
	r := newRouter(app.App)
	ctx := context.Background()

	w := do(t, r, http.MethodGet, "/api/v1/typing/user2/render", nil)
	eq(t, w.Code, http.StatusOK)
	var res FrameResponse
	decode(t, w, &res)
	eq(t, res.Frame.Idle, true)

	ok(t, app.store.Publish(ctx, "user2", &typing.TypingState{
		IsTyping: true, Text: "a<b", CursorPosition: 1, SelectionStart: 1, SelectionEnd: 1,
	}))
	_, err := app.prefs.Save(ctx, "user2", prefs.Preferences{Font: prefs.FontNoto, FontSize: 24})
	ok(t, err)

	w = do(t, r, http.MethodGet, "/api/v1/typing/user2/render", nil)
	eq(t, w.Code, http.StatusOK)
	res = FrameResponse{}
	decode(t, w, &res)
	eq(t, res.Frame.Idle, false)
	eq(t, res.HTML, `a<span class="live-cursor"></span>&lt;b`)
	eq(t, res.Frame.Style.Direction, "rtl")
	eq(t, res.Frame.Style.FontSize, 24)
}

func TestMessages(t *testing.T) {
	r := newRouter(newTestApp(t).App)

	w := do(t, r, http.MethodPost, "/api/v1/messages", MessageRequest{UserID: "user2", Text: "hello"})
	eq(t, w.Code, http.StatusCreated)
	var m feed.Message
	decode(t, w, &m)
	eq(t, m.ID != "", true)

	w = do(t, r, http.MethodPost, "/api/v1/messages", MessageRequest{UserID: "user1", Text: "mine"})
	eq(t, w.Code, http.StatusCreated)

	w = do(t, r, http.MethodPost, "/api/v1/messages", MessageRequest{UserID: "user1", Text: "   "})
	eq(t, w.Code, http.StatusBadRequest)

	w = do(t, r, http.MethodGet, "/api/v1/messages?user=user1", nil)
	eq(t, w.Code, http.StatusOK)
	var res MessagesResponse
	decode(t, w, &res)
	eq(t, len(res.Messages), 2)
	eq(t, res.Foreign, "hello")
}

func TestPreferences(t *testing.T) {
	r := newRouter(newTestApp(t).App)

	w := do(t, r, http.MethodGet, "/api/v1/preferences/user1", nil)
	eq(t, w.Code, http.StatusOK)
	var res PreferencesResponse
	decode(t, w, &res)
	eq(t, res.Font, prefs.FontMonospace)
	eq(t, res.FontSize, prefs.DefaultFontSize)
	eq(t, res.Style, typing.DefaultStyle())

	w = do(t, r, http.MethodPut, "/api/v1/preferences/user1", PreferencesRequest{Font: "noto", FontSize: 99})
	eq(t, w.Code, http.StatusOK)
	res = PreferencesResponse{}
	decode(t, w, &res)
	eq(t, res.Font, prefs.FontNoto)
	eq(t, res.FontSize, prefs.MaxFontSize)
	eq(t, res.Style.Direction, "rtl")
}

func TestStoreStatus(t *testing.T) {
	eq(t, storeStatus(context.DeadlineExceeded), http.StatusGatewayTimeout)
	eq(t, storeStatus(typing.ErrRejected), http.StatusUnprocessableEntity)
	eq(t, storeStatus(context.Canceled), http.StatusServiceUnavailable)
}

func TestCloseSessionsWithoutSessions(t *testing.T) {
	app := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	app.CloseSessions(ctx)
	eq(t, app.track(&session{}), false)
}
