package relay

import (
	"callroom/native/internal/domain"
	"callroom/native/internal/signal"

	"github.com/rs/zerolog/log"
)

const sendBuffer = 64

// client is one signaling socket as seen by the hub.
type client struct {
	id   string
	send chan []byte

	// owned by the hub goroutine
	roomID      string
	participant domain.Participant
	closed      bool
}

func (c *client) closeSend() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

type inbound struct {
	from *client
	msg  domain.SignalMessage
}

// room is the hub's view of a call: who is connected and what is waiting
// for the participant that has not joined yet.
type room struct {
	members []*client
	backlog [][]byte
}

// Hub routes signaling frames between the two participants of each room.
// All routing state is owned by Run.
type Hub struct {
	store *Store

	clients    map[*client]bool
	rooms      map[string]*room
	register   chan *client
	unregister chan *client
	inbound    chan inbound
	quit       chan struct{}
	done       chan struct{}
}

func NewHub(store *Store) *Hub {
	return &Hub{
		store:      store,
		clients:    make(map[*client]bool),
		rooms:      make(map[string]*room),
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inbound),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			for c := range h.clients {
				c.closeSend()
				delete(h.clients, c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			log.Info().Str("component", "relay").Str("client_id", c.id).Msg("client registered")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			h.depart(c, "socket closed")
			delete(h.clients, c)
			c.closeSend()
			log.Info().Str("component", "relay").Str("client_id", c.id).Msg("client unregistered")

		case in := <-h.inbound:
			if _, ok := h.clients[in.from]; !ok {
				continue
			}
			h.route(in.from, in.msg)
		}
	}
}

func (h *Hub) route(c *client, msg domain.SignalMessage) {
	switch msg.Type {
	case domain.EventJoin:
		h.join(c, msg)
	case domain.EventOffer, domain.EventAnswer, domain.EventICECandidate:
		h.forward(c, msg)
	case domain.EventLeave, domain.EventDisconnectCall:
		h.depart(c, string(msg.Type))
	default:
		log.Warn().Str("component", "relay").Str("client_id", c.id).Str("event", string(msg.Type)).Msg("dropping event not accepted from clients")
	}
}

func (h *Hub) join(c *client, msg domain.SignalMessage) {
	logger := log.With().Str("component", "relay").Str("client_id", c.id).Str("room_id", msg.RoomID).Logger()

	if c.roomID != "" {
		logger.Warn().Msg("client already joined a room")
		return
	}
	stored, ok := h.store.Get(msg.RoomID)
	if !ok || stored.State == domain.RoomClosed {
		logger.Warn().Msg("join for unknown or closed room")
		return
	}
	r := h.rooms[msg.RoomID]
	if r == nil {
		r = &room{}
		h.rooms[msg.RoomID] = r
	}
	if len(r.members) >= 2 {
		logger.Warn().Msg("room already has two participants")
		return
	}

	role := domain.RoleCallee
	if msg.Email == stored.CallerEmail {
		role = domain.RoleCaller
	}
	c.roomID = msg.RoomID
	c.participant = domain.Participant{Email: msg.Email, Role: role}
	r.members = append(r.members, c)

	for _, frame := range r.backlog {
		h.deliver(c, frame)
	}
	if n := len(r.backlog); n > 0 {
		logger.Info().Int("count", n).Msg("flushed backlog")
	}
	r.backlog = nil

	logger.Info().Str("email", msg.Email).Str("role", string(role)).Int("members", len(r.members)).Msg("joined")
}

// forward sends msg to the other participant, or holds it until one joins.
func (h *Hub) forward(c *client, msg domain.SignalMessage) {
	r := h.rooms[c.roomID]
	if c.roomID == "" || r == nil {
		log.Warn().Str("component", "relay").Str("client_id", c.id).Str("event", string(msg.Type)).Msg("event before join")
		return
	}
	msg.RoomID = c.roomID
	frame, err := signal.Encode(msg)
	if err != nil {
		log.Error().Str("component", "relay").Err(err).Msg("encode")
		return
	}

	if other := r.other(c); other != nil {
		h.deliver(other, frame)
		return
	}
	r.backlog = append(r.backlog, frame)
}

// depart removes c from its room, tells the other participant and closes
// the room.
func (h *Hub) depart(c *client, reason string) {
	if c.roomID == "" {
		return
	}
	roomID := c.roomID
	c.roomID = ""

	r := h.rooms[roomID]
	if r == nil {
		return
	}
	other := r.other(c)
	if other != nil {
		frame, err := signal.Encode(domain.SignalMessage{Type: domain.EventPeerDisconnected, RoomID: roomID})
		if err == nil {
			h.deliver(other, frame)
		}
		other.roomID = ""
	}
	delete(h.rooms, roomID)
	h.store.Close(roomID)

	log.Info().Str("component", "relay").Str("room_id", roomID).Str("client_id", c.id).Str("reason", reason).Msg("room closed")
}

// deliver queues a frame without blocking the hub. A client that cannot
// keep up has its queue closed, which ends its socket; the room is closed
// when its read side unregisters.
func (h *Hub) deliver(c *client, frame []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		log.Warn().Str("component", "relay").Str("client_id", c.id).Msg("send buffer full, dropping client")
		c.closeSend()
	}
}

func (r *room) other(c *client) *client {
	for _, m := range r.members {
		if m != c {
			return m
		}
	}
	return nil
}

func (h *Hub) add(c *client) {
	select {
	case h.register <- c:
	case <-h.quit:
		c.closeSend()
	}
}

func (h *Hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) receive(c *client, msg domain.SignalMessage) {
	select {
	case h.inbound <- inbound{from: c, msg: msg}:
	case <-h.quit:
	}
}

// Stop ends Run and closes every client's outgoing queue.
func (h *Hub) Stop() {
	close(h.quit)
	<-h.done
}
