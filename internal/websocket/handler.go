package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"storypoints/pkg/types"
)

// Dispatcher handles decoded client events. HandleEvent returns the reply for the
// sender or nil. Disconnect is called exactly once per connection after its
// reader has stopped.
type Dispatcher interface {
	HandleEvent(connectionID, event string, data json.RawMessage) interface{}
	Disconnect(connectionID string)
}

type Config struct {
	ReadLimit      int64
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	AllowedOrigins []string

	// EventsPerMinute caps inbound events per connection; excess frames are
	// dropped. Zero disables the cap.
	EventsPerMinute int
	Clock           clockwork.Clock
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		ReadLimit:       64 * 1024,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		WriteTimeout:    DefaultWriteTimeout,
		SendBuffer:      DefaultSendBuffer,
		EventsPerMinute: 300,
	}
}

// Handler upgrades HTTP requests and runs one reader per connection, feeding events
// to the dispatcher.
type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	cfg        Config
	upgrader   websocket.Upgrader
	wg         sync.WaitGroup
}

// NewHandler creates a handler that registers connections in registry.
func NewHandler(registry *Registry, dispatcher Dispatcher, cfg Config) *Handler {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	h := &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// HandleWebSocket upgrades the request and hands the connection to its reader.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, uuid.NewString(), h.cfg.SendBuffer, h.cfg.WriteTimeout)
	if err := h.registry.Register(conn); err != nil {
		log.Error().Err(err).Str("connection", conn.ID()).Msg("failed to register connection")
		_ = conn.Close()
		return
	}

	log.Debug().Str("connection", conn.ID()).Str("remote", r.RemoteAddr).Msg("connection opened")

	h.wg.Add(1)
	go h.handleConnection(conn)
}

// Wait blocks until every connection reader has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) handleConnection(conn *Connection) {
	defer h.wg.Done()
	defer func() {
		h.registry.Unregister(conn)
		h.dispatcher.Disconnect(conn.ID())
		_ = conn.Close()
		log.Debug().Str("connection", conn.ID()).Msg("connection closed")
	}()

	ws := conn.conn
	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}
	if h.cfg.PongWait > 0 {
		if err := ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait)); err != nil {
			return
		}
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		})
	}

	go h.pingLoop(conn)

	limiter := newEventLimiter(h.cfg.Clock, h.cfg.EventsPerMinute, time.Minute)
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Str("connection", conn.ID()).Err(err).Msg("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			log.Debug().Str("connection", conn.ID()).Msg("dropping undecodable frame")
			continue
		}
		if !limiter.Allow() {
			log.Debug().Str("connection", conn.ID()).Str("event", env.Event).Msg("rate limit exceeded, dropping event")
			continue
		}

		reply := h.dispatcher.HandleEvent(conn.ID(), env.Event, env.Data)
		if reply == nil {
			continue
		}
		if err := conn.WriteJSON(types.Outbound{Event: types.EventAck, ID: env.ID, Data: reply}); err != nil {
			log.Debug().Str("connection", conn.ID()).Err(err).Msg("failed to send reply")
			return
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	if h.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(conn.writeTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// checkOrigin accepts every origin when none are configured or "*" is listed.
// Requests without an Origin header are not from browsers and are accepted.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
