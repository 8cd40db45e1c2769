// Package ws is the socket side of the action relay: a hub of WebSocket
// connections grouped into per-project rooms.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"termhub/api/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// identify is the handshake a client sends after connecting, carrying its
// user and active project. A client with no active project joins no room
// and receives no relayed actions.
type identify struct {
	Event string `json:"event"`
	User  struct {
		ID             string `json:"id"`
		CurrentProject *struct {
			ID string `json:"id"`
		} `json:"currentProject"`
	} `json:"user"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	room string
}

// Hub tracks connected clients by room and fans emitted payloads into
// every socket joined to a room. It satisfies relay.RoomEmitter.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

// EmitToRoom delivers one event to every socket in the room. Slow clients
// whose send queue is full miss the message rather than stall the rest of
// the room.
func (h *Hub) EmitToRoom(room, event string, payload []byte) {
	encoded, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		log.Printf("ws: encode frame: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for member := range h.rooms[room] {
		select {
		case member.send <- encoded:
		default:
		}
	}
}

// RoomSize reports how many sockets are currently joined to a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

func (h *Hub) join(member *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if member.room == room {
		return
	}
	if member.room != "" {
		h.detach(member)
	}
	member.room = room
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][member] = struct{}{}
}

func (h *Hub) leave(member *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(member)
}

// detach must be called with the mutex held.
func (h *Hub) detach(member *client) {
	if member.room == "" {
		return
	}
	if members, ok := h.rooms[member.room]; ok {
		delete(members, member)
		if len(members) == 0 {
			delete(h.rooms, member.room)
		}
	}
	member.room = ""
}

// HandleWS upgrades the request and serves the connection until the client
// disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	member := &client{conn: conn, send: make(chan []byte, 32)}
	go member.writePump()
	h.readPump(member)
}

func (h *Hub) readPump(member *client) {
	defer func() {
		h.leave(member)
		close(member.send)
	}()

	for {
		var msg identify
		if err := member.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Event != "identify" {
			continue
		}
		if msg.User.CurrentProject == nil {
			h.leave(member)
			continue
		}
		h.join(member, relay.RoomForProject(msg.User.CurrentProject.ID))
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
