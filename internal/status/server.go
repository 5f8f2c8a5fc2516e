// Package status serves a small HTTP endpoint that exposes the state of a chat session.
package status

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/streamchat/internal/chat"
)

// Source is the read-only view of a session the endpoint reports on. *chat.Session
// implements it.
type Source interface {
	IsConnected() bool
	IsAuthorized() bool
	UserName() string
	Channels() []chat.Channel
}

// Config holds the listener settings.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
}

// NewServer builds an HTTP server with the health and status routes.
func NewServer(backend string, src Source, cfg Config, logger *zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(backend, src, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter returns the gin engine serving /health and /status.
func NewRouter(backend string, src Source, logger *zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	h := NewHandlers(backend, src)
	router.GET("/health", h.Health)
	router.GET("/status", h.Status)

	return router
}
