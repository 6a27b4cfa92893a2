package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/owesh74/Guftagu/internal/model"
	"github.com/owesh74/Guftagu/internal/repository"
)

var ErrInvalidMessage = errors.New("invalid message")

// HubStore is the slice of the room store the fan-out hub needs.
type HubStore interface {
	GroupExists(ctx context.Context, name string) (bool, error)
	AppendMessage(ctx context.Context, msg model.Message) (int64, error)
	MessageCount(ctx context.Context, group string) (int, error)
}

// Client is one live connection's outbound half. The transport handler owns
// the socket and drains Send; the hub only pushes marshaled events into it.
type Client struct {
	ID   string
	Send chan []byte
}

// Hub is the per-room fan-out: it serializes publishes within a room, appends
// them to the store with a server-assigned timestamp, and broadcasts the
// finalized message to every subscribed connection, sender included.
//
// Publishes to the same room are serialized by the room's mutex, which is the
// total-order guarantee. Publishes to different rooms run in parallel.
type Hub struct {
	store      HubStore
	log        zerolog.Logger
	sendBuffer int

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]*room
}

type room struct {
	mu     sync.Mutex
	lastTS time.Time
	subs   map[string]bool
}

func NewHub(store HubStore, log zerolog.Logger, sendBuffer int) *Hub {
	return &Hub{
		store:      store,
		log:        log,
		sendBuffer: sendBuffer,
		clients:    make(map[string]*Client),
		rooms:      make(map[string]*room),
	}
}

// NewClient allocates a connection identity with its outbound buffer.
func (h *Hub) NewClient() *Client {
	return &Client{
		ID:   uuid.NewString(),
		Send: make(chan []byte, h.sendBuffer),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Str("client", c.ID).Int("total", total).Msg("client registered")
}

// Unregister drops the client from every room it subscribed to and closes its
// Send channel, terminating the transport writer.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	delete(h.clients, clientID)
	for name, r := range h.rooms {
		delete(r.subs, clientID)
		if len(r.subs) == 0 {
			delete(h.rooms, name)
		}
	}
	close(c.Send)
	h.log.Debug().Str("client", clientID).Int("total", len(h.clients)).Msg("client unregistered")
}

// Subscribe adds the connection to the room's fan-out set. It is idempotent:
// repeated calls are no-ops. The returned count is the room's stored message
// total, which the client compares against its snapshot to detect a gap.
func (h *Hub) Subscribe(ctx context.Context, clientID, group string) (int, error) {
	h.mu.Lock()
	r, ok := h.rooms[group]
	if !ok {
		r = &room{subs: make(map[string]bool)}
		h.rooms[group] = r
	}
	r.subs[clientID] = true
	h.mu.Unlock()

	count, err := h.store.MessageCount(ctx, group)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// Unsubscribe removes the connection from the room's fan-out set.
func (h *Hub) Unsubscribe(clientID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[group]
	if !ok {
		return
	}
	delete(r.subs, clientID)
	if len(r.subs) == 0 {
		delete(h.rooms, group)
	}
}

// Publish validates, persists, and broadcasts one message. The timestamp is
// assigned here, under the room lock, so all subscribers observe the same
// order the store records. The sender's own connection receives the broadcast
// too; clients render from the broadcast, never from a local echo.
func (h *Hub) Publish(ctx context.Context, p model.PublishPayload) (model.Message, error) {
	if p.Group == "" || p.Sender == "" {
		return model.Message{}, ErrInvalidMessage
	}
	msg := model.Message{
		Group:   p.Group,
		Sender:  p.Sender,
		Text:    p.Text,
		File:    p.File,
		ReplyTo: p.ReplyTo,
	}
	if err := msg.ValidateBody(); err != nil {
		return model.Message{}, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}

	exists, err := h.store.GroupExists(ctx, p.Group)
	if err != nil {
		return model.Message{}, fmt.Errorf("look up group: %w", err)
	}
	if !exists {
		return model.Message{}, ErrGroupNotFound
	}

	r := h.lockRoom(p.Group)
	defer r.mu.Unlock()

	ts := time.Now().UTC()
	if !ts.After(r.lastTS) {
		ts = r.lastTS.Add(time.Microsecond)
	}
	msg.CreatedAt = ts

	id, err := h.store.AppendMessage(ctx, msg)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Message{}, ErrGroupNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("append message: %w", err)
	}
	r.lastTS = ts
	msg.ID = id

	h.broadcast(r, msg)
	return msg, nil
}

// lockRoom returns the room entry with its mutex held. Empty rooms are
// deleted under h.mu, so the entry is re-checked after locking: a stale
// pointer would let two publishers serialize on different mutexes.
func (h *Hub) lockRoom(group string) *room {
	for {
		h.mu.Lock()
		r, ok := h.rooms[group]
		if !ok {
			r = &room{subs: make(map[string]bool)}
			h.rooms[group] = r
		}
		h.mu.Unlock()

		r.mu.Lock()
		h.mu.RLock()
		current := h.rooms[group]
		h.mu.RUnlock()
		if current == r {
			return r
		}
		r.mu.Unlock()
	}
}

// broadcast fans the finalized message out to the room's current subscription
// set. A subscriber whose buffer is full loses this message rather than
// stalling the room.
func (h *Hub) broadcast(r *room, msg model.Message) {
	event, err := model.NewEvent(model.EventMessage, msg)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal broadcast")
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for clientID := range r.subs {
		c, ok := h.clients[clientID]
		if !ok {
			continue
		}
		select {
		case c.Send <- data:
		default:
			h.log.Warn().Str("client", clientID).Str("group", msg.Group).Msg("send buffer full, dropping broadcast")
		}
	}
}

// RoomCount returns the number of rooms with at least one subscriber.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
