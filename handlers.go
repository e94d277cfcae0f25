package main

import (
	"context"
	"errors"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/ssau-fiit/livetype-api/config"
	"github.com/ssau-fiit/livetype-api/feed"
	"github.com/ssau-fiit/livetype-api/prefs"
	"github.com/ssau-fiit/livetype-api/typing"
	"net/http"
	"sync"
	"time"
)

const requestTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// App holds the backends shared by every request and websocket session.
type App struct {
	cfg   config.Config
	store typing.Store
	feed  feed.Feed
	prefs prefs.Store
	clock typing.Clock

	mu       sync.Mutex
	sessions map[*session]struct{}
	wg       sync.WaitGroup
}

func NewApp(cfg config.Config, store typing.Store, messages feed.Feed, prefStore prefs.Store, clock typing.Clock) *App {
	if clock == nil {
		clock = typing.SystemClock{}
	}
	return &App{
		cfg:      cfg,
		store:    store,
		feed:     messages,
		prefs:    prefStore,
		clock:    clock,
		sessions: make(map[*session]struct{}),
	}
}

func (a *App) aggregatorConfig() typing.AggregatorConfig {
	t := a.cfg.Typing
	return typing.AggregatorConfig{
		ContentDelay:     t.ContentDelay,
		SelectionDelay:   t.SelectionDelay,
		MinInterval:      t.MinInterval,
		AutoSaveInterval: t.AutoSaveInterval,
		PublishTimeout:   t.PublishTimeout,
	}
}

func newRouter(app *App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	v1 := r.Group("/api/v1")
	v1.GET("/health", app.handleHealth)

	v1.GET("/typing/:user", app.handleGetTyping)
	v1.PUT("/typing/:user", app.handlePutTyping)
	v1.DELETE("/typing/:user", app.handleDeleteTyping)
	v1.GET("/typing/:user/render", app.handleRenderTyping)

	v1.GET("/messages", app.handleGetMessages)
	v1.POST("/messages", app.handlePostMessage)

	v1.GET("/preferences/:user", app.handleGetPreferences)
	v1.PUT("/preferences/:user", app.handlePutPreferences)

	v1.GET("/sessions/ws", app.handleSocket)
	return r
}

// storeStatus maps a backend error onto an HTTP status.
func storeStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case typing.Classify(err) == typing.FailureRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

/////////////////////////////
/// Typing Handlers
/////////////////////////////

func (a *App) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"store":  a.cfg.Store,
		"feed":   a.cfg.Feed,
	})
}

func (a *App) handleGetTyping(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	snap, err := a.store.LoadOnce(ctx, c.Param("user"))
	if err != nil {
		log.Error().Err(err).Str("owner", c.Param("user")).Msg("failed to load typing state")
		c.AbortWithStatus(storeStatus(err))
		return
	}
	state, ok := snap.State()
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, state)
}

// handlePutTyping publishes a record written by some other client. Missing
// fields get the usual defaults and empty text deletes the record.
func (a *App) handlePutTyping(c *gin.Context) {
	var rec typing.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		log.Error().Err(err).Msg("could not parse typing record")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	state := rec.Normalize()
	if state.Timestamp == 0 {
		state.Timestamp = a.clock.Now().UnixMilli()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	owner := c.Param("user")
	if state.Text == "" {
		if err := a.store.Publish(ctx, owner, nil); err != nil {
			log.Error().Err(err).Str("owner", owner).Msg("failed to delete typing state")
			c.AbortWithStatus(storeStatus(err))
			return
		}
		c.Status(http.StatusNoContent)
		return
	}

	if err := a.store.Publish(ctx, owner, &state); err != nil {
		log.Error().Err(err).Str("owner", owner).Msg("failed to publish typing state")
		c.AbortWithStatus(storeStatus(err))
		return
	}
	c.JSON(http.StatusOK, state)
}

func (a *App) handleDeleteTyping(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := a.store.Publish(ctx, c.Param("user"), nil); err != nil {
		log.Error().Err(err).Str("owner", c.Param("user")).Msg("failed to delete typing state")
		c.AbortWithStatus(storeStatus(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// handleRenderTyping returns the frame the peer would currently see for
// the user, styled with the user's preferences.
func (a *App) handleRenderTyping(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	owner := c.Param("user")
	snap, err := a.store.LoadOnce(ctx, owner)
	if err != nil {
		log.Error().Err(err).Str("owner", owner).Msg("failed to load typing state")
		c.AbortWithStatus(storeStatus(err))
		return
	}

	r := typing.NewRenderer(nil, a.clock, a.cfg.Typing.StaleAfter)
	defer r.Stop()
	r.SetStyle(prefs.LoadOrDefault(ctx, a.prefs, owner).Style())
	c.JSON(http.StatusOK, frameResponse(r.Apply(snap)))
}

/////////////////////////////
/// Message Handlers
/////////////////////////////

func (a *App) handleGetMessages(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	msgs, err := a.feed.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list messages")
		c.AbortWithStatus(storeStatus(err))
		return
	}
	res := MessagesResponse{Messages: msgs}
	if user := c.Query("user"); user != "" {
		res.Foreign = feed.Foreign(msgs, user)
	}
	c.JSON(http.StatusOK, res)
}

func (a *App) handlePostMessage(c *gin.Context) {
	var r MessageRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		log.Error().Err(err).Msg("could not parse message")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	m, err := a.feed.Append(ctx, feed.Message{UserID: r.UserID, Text: r.Text})
	switch {
	case errors.Is(err, feed.ErrEmptyText), errors.Is(err, feed.ErrNoUser):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Msg("failed to append message")
		c.AbortWithStatus(storeStatus(err))
		return
	}
	c.JSON(http.StatusCreated, m)
}

/////////////////////////////
/// Preference Handlers
/////////////////////////////

func (a *App) handleGetPreferences(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	p, err := a.prefs.Load(ctx, c.Param("user"))
	if err != nil {
		log.Error().Err(err).Str("owner", c.Param("user")).Msg("failed to load preferences")
		c.AbortWithStatus(storeStatus(err))
		return
	}
	c.JSON(http.StatusOK, preferencesResponse(p))
}

func (a *App) handlePutPreferences(c *gin.Context) {
	var r PreferencesRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		log.Error().Err(err).Msg("could not parse preferences")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	p, err := a.prefs.Save(ctx, c.Param("user"), prefs.Preferences{Font: r.Font, FontSize: r.FontSize})
	if err != nil {
		log.Error().Err(err).Str("owner", c.Param("user")).Msg("failed to save preferences")
		c.AbortWithStatus(storeStatus(err))
		return
	}
	c.JSON(http.StatusOK, preferencesResponse(p))
}
