package status

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers serves the status routes.
type Handlers struct {
	backend string
	src     Source
}

// NewHandlers creates handlers reporting on src.
func NewHandlers(backend string, src Source) *Handlers {
	return &Handlers{backend: backend, src: src}
}

// ChannelResponse is one joined channel. ID is omitted for name-keyed backends.
type ChannelResponse struct {
	ID   *int64 `json:"id,omitempty"`
	Name string `json:"name"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Backend    string            `json:"backend"`
	Connected  bool              `json:"connected"`
	Authorized bool              `json:"authorized"`
	User       string            `json:"user,omitempty"`
	Channels   []ChannelResponse `json:"channels"`
}

// Health reports liveness.
// GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Status reports the session snapshot.
// GET /status
func (h *Handlers) Status(c *gin.Context) {
	channels := h.src.Channels()
	resp := StatusResponse{
		Backend:    h.backend,
		Connected:  h.src.IsConnected(),
		Authorized: h.src.IsAuthorized(),
		User:       h.src.UserName(),
		Channels:   make([]ChannelResponse, 0, len(channels)),
	}
	for _, ch := range channels {
		item := ChannelResponse{Name: ch.Name()}
		if id, ok := ch.ID(); ok {
			item.ID = &id
		}
		resp.Channels = append(resp.Channels, item)
	}
	c.JSON(http.StatusOK, resp)
}
