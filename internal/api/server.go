package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"storypoints/internal/gateway"
	"storypoints/internal/rooms"
	"storypoints/pkg/interfaces"
	"storypoints/pkg/types"
)

const (
	SecretHeader = "X-Room-Secret"

	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// RoomSource is the read side of rooms.Registry.
type RoomSource interface {
	Rooms() []types.RoomSummary
	Summary(name string) (types.RoomSummary, error)
	Count() (rooms, connections int)
}

// StatsSource reports transport statistics.
type StatsSource interface {
	GetStats() map[string]int
}

type Options struct {
	Rooms          RoomSource
	Transport      StatsSource
	Journal        interfaces.Journal
	Authorizer     gateway.Authorizer
	WebSocket      http.Handler
	AllowedOrigins []string
	Clock          clockwork.Clock
}

// Server serves health, room statistics and the websocket endpoint.
type Server struct {
	rooms     RoomSource
	transport StatsSource
	journal   interfaces.Journal
	auth      gateway.Authorizer
	clock     clockwork.Clock
	router    *mux.Router
	handler   http.Handler
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Rooms       int            `json:"rooms"`
	Connections map[string]int `json:"connections"`
	Journal     string         `json:"journal"`
}

type RoomsResponse struct {
	Rooms []types.RoomSummary `json:"rooms"`
}

type ActivityResponse struct {
	Room    string                `json:"room"`
	Entries []types.ActivityEntry `json:"entries"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewServer builds the router and wraps it with CORS.
func NewServer(opts Options) *Server {
	s := &Server{
		rooms:     opts.Rooms,
		transport: opts.Transport,
		journal:   opts.Journal,
		auth:      opts.Authorizer,
		clock:     opts.Clock,
		router:    mux.NewRouter(),
	}
	if s.auth == nil {
		s.auth = gateway.NewSecretAuthorizer("")
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	// Room names may contain "/", which clients send as %2F.
	s.router.UseEncodedPath()
	s.setupRoutes(opts.WebSocket)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", SecretHeader},
		MaxAge:         86400,
	})
	s.handler = c.Handler(s.router)
	return s
}

func (s *Server) setupRoutes(ws http.Handler) {
	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet, http.MethodHead)
	if ws != nil {
		s.router.Handle("/ws", ws).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware, s.requireSecret)
	api.HandleFunc("/rooms", s.listRooms).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{room}", s.getRoom).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{room}/activity", s.roomActivity).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	roomCount, _ := s.rooms.Count()
	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   s.clock.Now().UTC(),
		Rooms:       roomCount,
		Connections: map[string]int{},
		Journal:     "disabled",
	}
	if s.transport != nil {
		resp.Connections = s.transport.GetStats()
	}

	code := http.StatusOK
	if s.journal != nil {
		resp.Journal = "healthy"
		if err := s.journal.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Journal = "error: " + err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, code, resp)
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RoomsResponse{Rooms: s.rooms.Rooms()})
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	name, ok := roomVar(w, r)
	if !ok {
		return
	}

	summary, err := s.rooms.Summary(name)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		sendError(w, "Room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room", name).Msg("failed to describe room")
		sendError(w, "Failed to describe room", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) roomActivity(w http.ResponseWriter, r *http.Request) {
	name, ok := roomVar(w, r)
	if !ok {
		return
	}

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxActivityLimit)
	}

	if s.journal == nil {
		sendError(w, "Activity journal is not readable", http.StatusNotFound)
		return
	}
	entries, err := s.journal.Recent(r.Context(), name, limit)
	switch {
	case errors.Is(err, interfaces.ErrJournalUnreadable):
		sendError(w, "Activity journal is not readable", http.StatusNotFound)
		return
	case err != nil:
		log.Error().Err(err).Str("room", name).Msg("failed to read activity")
		sendError(w, "Failed to read activity", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []types.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, ActivityResponse{Room: name, Entries: entries})
}

// requireSecret accepts the shared secret from the X-Room-Secret header or the
// secret query parameter.
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get(SecretHeader)
		if secret == "" {
			secret = r.URL.Query().Get("secret")
		}
		if !s.auth.Authorize(secret) {
			sendError(w, "Invalid or missing secret", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func roomVar(w http.ResponseWriter, r *http.Request) (string, bool) {
	name, err := url.PathUnescape(mux.Vars(r)["room"])
	if err != nil || name == "" {
		sendError(w, "Invalid room name", http.StatusBadRequest)
		return "", false
	}
	return name, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
