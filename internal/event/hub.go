// Package event streams learning activity to subscribers as server-sent
// events.
package event

import (
	stdlog "log"
	"net/http"
	"path"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/alexandrevicenzi/go-sse"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// Topics
const (
	TopicNotes   = "notes"
	TopicImports = "imports"
)

// Hub fans published events out to the clients subscribed to a topic at
// /<prefix>/<topic>.
type Hub struct {
	server *sse.Server
	seq    atomic.Uint64
	close  sync.Once
	closed atomic.Bool
}

func NewHub() *Hub {
	return &Hub{
		server: sse.NewServer(&sse.Options{
			Headers: map[string]string{
				"Cache-Control":     "no-store",
				"X-Accel-Buffering": "no",
			},
			ChannelNameFunc: func(r *http.Request) string {
				return path.Base(r.URL.Path)
			},
			Logger: stdlog.New(log.Output(), "sse: ", stdlog.LstdFlags),
		}),
	}
}

func (h *Hub) RegisterHandlers(g *echo.Group) {
	g.GET("/:topic", echo.WrapHandler(h.server))
}

// Publish sends v encoded as JSON to every subscriber of topic.
func (h *Hub) Publish(topic, eventType string, v any) {
	if h.closed.Load() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Warnf("event: failed to encode %s event: %v", eventType, err)
		return
	}
	id := strconv.FormatUint(h.seq.Add(1), 10)
	h.server.SendMessage(topic, sse.NewMessage(id, string(data), eventType))
}

// Subscribers reports how many clients are connected to any topic.
func (h *Hub) Subscribers() int {
	return h.server.ClientCount()
}

// Close disconnects every subscriber. It is safe to call more than once.
func (h *Hub) Close() {
	h.close.Do(func() {
		h.closed.Store(true)
		h.server.Shutdown()
	})
}
