// Package relay is a development room service and signaling relay. It
// implements the room REST contract and the WebSocket event contract the
// call client speaks, keeping everything in memory.
package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"callroom/native/internal/domain"
	"callroom/native/internal/signal"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// dev relay: any origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

type joinRequest struct {
	RoomID string `json:"roomId"`
	Email  string `json:"email"`
}

type resultResponse struct {
	Result string `json:"result"`
}

// Server exposes the room API under /api and the relay at /ws.
type Server struct {
	store     *Store
	hub       *Hub
	publicURL string
}

// NewServer creates a server. Room links are built from publicURL.
func NewServer(store *Store, hub *Hub, publicURL string) *Server {
	return &Server{
		store:     store,
		hub:       hub,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (s *Server) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/rooms", s.createRoom)
		r.Post("/rooms/join", s.joinRoom)
		r.Get("/rooms/{roomID}", s.getRoom)
	})
	r.Get("/ws", s.ServeWS)

	return r
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("callerEmail")
	if email == "" {
		writeResult(w, http.StatusBadRequest, "callerEmail is required")
		return
	}

	room := s.store.Create(email)
	log.Info().Str("component", "relay").Str("room_id", room.RoomID).Str("caller", email).Msg("room created")
	writeResult(w, http.StatusOK, s.publicURL+"/room/"+room.RoomID)
}

func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusBadRequest, "invalid join request")
		return
	}
	if req.RoomID == "" || req.Email == "" {
		writeResult(w, http.StatusBadRequest, "roomId and email are required")
		return
	}

	room, err := s.store.Join(req.RoomID, req.Email)
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		writeResult(w, http.StatusNotFound, "room not found")
		return
	case errors.Is(err, domain.ErrRoomFull):
		writeResult(w, http.StatusConflict, "room is full")
		return
	case err != nil:
		writeResult(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("component", "relay").Str("room_id", room.RoomID).Str("callee", req.Email).Msg("room joined")
	writeResult(w, http.StatusOK, "joined room "+room.RoomID)
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := s.store.Get(chi.URLParam(r, "roomID"))
	if !ok {
		writeResult(w, http.StatusNotFound, "room not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(room)
}

func writeResult(w http.ResponseWriter, status int, result string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resultResponse{Result: result})
}

// requestLogger logs each request through zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("component", "relay").
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// ServeWS upgrades a signaling socket and pumps frames between it and the hub.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Str("component", "relay").Err(err).Msg("upgrade websocket")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
	}
	l := log.With().Str("component", "relay").Str("client_id", c.id).Str("session", r.Header.Get("X-Client-Session")).Logger()
	l.Info().Msg("client connected")

	s.hub.add(c)
	go writePump(conn, c)

	defer func() {
		l.Info().Msg("client disconnected")
		s.hub.remove(c)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Warn().Err(err).Msg("unexpected close")
			}
			return
		}

		msg, err := signal.Decode(data)
		if err != nil {
			if !msg.Type.Negotiation() {
				l.Warn().Err(err).Msg("dropping malformed frame")
				continue
			}
			l.Warn().Err(err).Msg("forwarding malformed negotiation frame")
		}
		s.hub.receive(c, msg)
	}
}

// writePump is the only writer on conn. It closes the socket once the hub
// closes the client's queue.
func writePump(conn *websocket.Conn, c *client) {
	defer conn.Close()

	for frame := range c.send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Debug().Str("component", "relay").Err(err).Str("client_id", c.id).Msg("write")
			return
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
