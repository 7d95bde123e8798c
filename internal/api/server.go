// Package api exposes the players of a session.Manager over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/reel/internal/session"
	"github.com/zsiec/reel/player"
)

// PlayerFactory builds the player for a new session.
type PlayerFactory func(key string, paths []string, settings player.Settings) (*player.Player, error)

// Server wraps the HTTP router with its dependencies.
type Server struct {
	log       *slog.Logger
	router    *gin.Engine
	sessions  *session.Manager
	newPlayer PlayerFactory
	defaults  player.Settings
	gatherer  prometheus.Gatherer
}

// Config holds the dependencies of a Server.
type Config struct {
	Sessions  *session.Manager
	NewPlayer PlayerFactory
	Defaults  player.Settings
	Gatherer  prometheus.Gatherer // nil uses the default gatherer
	Logger    *slog.Logger
}

// New creates a server. cfg.Sessions and cfg.NewPlayer are required.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		log:       log.With("component", "api"),
		sessions:  cfg.Sessions,
		newPlayer: cfg.NewPlayer,
		defaults:  cfg.Defaults,
		gatherer:  cfg.Gatherer,
	}
	s.setupRoutes()
	return s
}

// Handler returns the router for use in an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog)

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	players := router.Group("/players")
	{
		players.POST("", s.handleCreate)
		players.GET("", s.handleList)
		players.GET("/:key", s.handleGet)
		players.DELETE("/:key", s.handleDelete)
		players.POST("/:key/play", s.control((*player.Player).Play))
		players.POST("/:key/pause", s.control((*player.Player).Pause))
		players.POST("/:key/stop", s.control((*player.Player).Stop))
		players.POST("/:key/seek", s.handleSeek)
		players.PUT("/:key/volume", s.handleVolume)
		players.PUT("/:key/mute", s.handleMute)
		players.PUT("/:key/loop", s.handleLoop)
	}

	s.router = router
}

func (s *Server) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"took", time.Since(start),
	)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"players": len(s.sessions.List()),
	})
}

type createRequest struct {
	Key      string   `json:"key"`
	Paths    []string `json:"paths" binding:"required,min=1"`
	Autoplay bool     `json:"autoplay"`
	Loop     *bool    `json:"loop"`
	Mute     *bool    `json:"mute"`
	Volume   *float64 `json:"volume"`
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Key == "" {
		req.Key = uuid.NewString()
	}
	if _, ok := s.sessions.Get(req.Key); ok {
		c.JSON(http.StatusConflict, gin.H{"error": "player already exists"})
		return
	}

	settings := s.defaults
	if req.Loop != nil {
		settings.Loop = *req.Loop
	}
	if req.Mute != nil {
		settings.Mute = *req.Mute
	}
	if req.Volume != nil {
		settings.Volume = *req.Volume
	}

	p, err := s.newPlayer(req.Key, req.Paths, settings)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	sess, ok := s.sessions.Create(req.Key, p, req.Paths)
	if !ok {
		_ = p.Close()
		c.JSON(http.StatusConflict, gin.H{"error": "player already exists"})
		return
	}
	if req.Autoplay {
		if err := p.Play(); err != nil {
			s.log.Warn("autoplay failed", "key", req.Key, "error", err)
		}
	}
	c.JSON(http.StatusCreated, describe(sess))
}

func (s *Server) handleList(c *gin.Context) {
	sessions := s.sessions.List()
	out := make([]playerInfo, len(sessions))
	for i, sess := range sessions {
		out[i] = describe(sess)
	}
	c.JSON(http.StatusOK, gin.H{
		"players": out,
		"total":   len(out),
	})
}

func (s *Server) handleGet(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, describe(sess))
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.sessions.Remove(c.Param("key")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// control adapts a no-argument player command to a handler.
func (s *Server) control(cmd func(*player.Player) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.lookup(c)
		if !ok {
			return
		}
		if err := cmd(sess.Player); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, describe(sess))
	}
}

type seekRequest struct {
	PositionMS *int64 `json:"position_ms" binding:"required,min=0"`
	Accurate   bool   `json:"accurate"`
}

func (s *Server) handleSeek(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pos := time.Duration(*req.PositionMS) * time.Millisecond
	if err := sess.Player.Seek(pos, req.Accurate); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, describe(sess))
}

func (s *Server) handleVolume(c *gin.Context) {
	var req struct {
		Volume *float64 `json:"volume" binding:"required"`
	}
	s.setter(c, &req, func(p *player.Player) error { return p.SetVolume(*req.Volume) })
}

func (s *Server) handleMute(c *gin.Context) {
	var req struct {
		Mute *bool `json:"mute" binding:"required"`
	}
	s.setter(c, &req, func(p *player.Player) error { return p.SetMute(*req.Mute) })
}

func (s *Server) handleLoop(c *gin.Context) {
	var req struct {
		Loop *bool `json:"loop" binding:"required"`
	}
	s.setter(c, &req, func(p *player.Player) error {
		p.SetLoop(*req.Loop)
		return nil
	})
}

func (s *Server) setter(c *gin.Context, req any, apply func(*player.Player) error) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := apply(sess.Player); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, describe(sess))
}

func (s *Server) lookup(c *gin.Context) (*session.Session, bool) {
	sess, ok := s.sessions.Get(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
	}
	return sess, ok
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, player.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, player.ErrInvalidState), errors.Is(err, player.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, player.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
