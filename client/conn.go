package client

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/owesh74/Guftagu/internal/model"
)

// MessageHandler receives broadcast messages for one room, in delivery order.
type MessageHandler func(model.Message)

var ErrConnClosed = errors.New("connection closed")

const (
	ackTimeout       = 5 * time.Second
	publishTimeout   = 10 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// Conn is the process-wide event channel to the relay. It multiplexes any
// number of room subscriptions over a single WebSocket, dispatches broadcasts
// to per-room handlers from one read loop (so handlers see delivery order),
// and transparently redials on transport failure, re-issuing every active
// subscription. Messages published by others while disconnected are not
// replayed; room views re-fetch their snapshot via the reconnect callback.
type Conn struct {
	url string

	// writeMu guards ws for writers; the read pump is the only goroutine
	// that replaces it.
	writeMu sync.Mutex
	ws      *websocket.Conn

	mu         sync.Mutex
	subs       map[string]bool
	handlers   map[string]MessageHandler
	reconnects map[string]func()
	acks       map[string]*subAck
	pending    map[int64]chan model.PublishResultPayload
	seq        int64
	closed     bool
}

// subAck coalesces concurrent Subscribe calls for one group: the first caller
// registers it and sends the event, later callers wait on the same ack.
type subAck struct {
	done    chan struct{}
	payload model.SubscribedPayload
}

// DialConn connects the channel and starts its read loop.
func DialConn(wsURL string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		url:        wsURL,
		ws:         ws,
		subs:       make(map[string]bool),
		handlers:   make(map[string]MessageHandler),
		reconnects: make(map[string]func()),
		acks:       make(map[string]*subAck),
		pending:    make(map[int64]chan model.PublishResultPayload),
	}
	go c.readPump(ws)
	return c, nil
}

// Subscribe announces interest in a room's broadcasts. Idempotent: the relay
// keys fan-out on set membership. Returns the room's current message count,
// which the history reconciler compares against its snapshot.
func (c *Conn) Subscribe(group string) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrConnClosed
	}
	c.subs[group] = true
	ack, inflight := c.acks[group]
	if !inflight {
		ack = &subAck{done: make(chan struct{})}
		c.acks[group] = ack
	}
	c.mu.Unlock()

	if !inflight {
		if err := c.sendEvent(model.EventSubscribe, model.SubscribePayload{Group: group}); err != nil {
			c.mu.Lock()
			if c.acks[group] == ack {
				delete(c.acks, group)
			}
			c.mu.Unlock()
			return 0, err
		}
	}

	select {
	case <-ack.done:
		return ack.payload.Messages, nil
	case <-time.After(ackTimeout):
		c.mu.Lock()
		if c.acks[group] == ack {
			delete(c.acks, group)
		}
		c.mu.Unlock()
		return 0, ErrUnknownOutcome
	}
}

// Unsubscribe releases the room subscription. Paired with Subscribe on every
// room exit path so stale subscriptions cannot accumulate across navigation.
func (c *Conn) Unsubscribe(group string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	delete(c.subs, group)
	c.mu.Unlock()

	return c.sendEvent(model.EventUnsubscribe, model.SubscribePayload{Group: group})
}

// OnMessage installs the handler for a room's broadcasts. Re-registration
// replaces the previous handler atomically, never stacks; a nil handler
// removes it.
func (c *Conn) OnMessage(group string, h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		delete(c.handlers, group)
		return
	}
	c.handlers[group] = h
}

// OnReconnect installs a callback invoked after the channel is re-established
// and subscriptions re-issued. Same replace semantics as OnMessage.
func (c *Conn) OnReconnect(group string, f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f == nil {
		delete(c.reconnects, group)
		return
	}
	c.reconnects[group] = f
}

// Publish submits one message and waits for the relay's verdict. A timeout
// yields ErrUnknownOutcome: the message may still have gone through, so the
// caller must not blindly retry.
func (c *Conn) Publish(group, sender, text string, file *model.Attachment, replyTo *model.ReplySnapshot) error {
	ch := make(chan model.PublishResultPayload, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.seq++
	seq := c.seq
	c.pending[seq] = ch
	c.mu.Unlock()

	payload := model.PublishPayload{
		Seq:     seq,
		Group:   group,
		Sender:  sender,
		Text:    text,
		File:    file,
		ReplyTo: replyTo,
	}
	if err := c.sendEvent(model.EventPublish, payload); err != nil {
		c.dropPending(seq)
		return err
	}

	select {
	case res := <-ch:
		if res.OK {
			return nil
		}
		switch res.Code {
		case model.CodeGroupNotFound:
			return ErrGroupNotFound
		case model.CodeInvalidMessage:
			return errors.New(res.Message)
		default:
			return errors.New(res.Message)
		}
	case <-time.After(publishTimeout):
		c.dropPending(seq)
		return ErrUnknownOutcome
	}
}

// Close tears the channel down for good; no reconnection is attempted.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Conn) readPump(ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			next := c.reconnect()
			if next == nil {
				return
			}
			ws = next
			continue
		}

		var event model.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}

		switch event.Type {
		case model.EventMessage:
			var msg model.Message
			if err := event.DecodeData(&msg); err != nil {
				continue
			}
			c.mu.Lock()
			handler := c.handlers[msg.Group]
			c.mu.Unlock()
			if handler != nil {
				handler(msg)
			}

		case model.EventSubscribed:
			var payload model.SubscribedPayload
			if err := event.DecodeData(&payload); err != nil {
				continue
			}
			c.mu.Lock()
			ack := c.acks[payload.Group]
			delete(c.acks, payload.Group)
			c.mu.Unlock()
			if ack != nil {
				ack.payload = payload
				close(ack.done)
			}

		case model.EventPublishResult:
			var res model.PublishResultPayload
			if err := event.DecodeData(&res); err != nil {
				continue
			}
			c.mu.Lock()
			ch := c.pending[res.Seq]
			delete(c.pending, res.Seq)
			c.mu.Unlock()
			if ch != nil {
				ch <- res
			}
		}
	}
}

// reconnect redials with backoff, reinstalls the socket, re-issues every
// active subscription, and fires the per-room reconnect callbacks. Returns
// nil once the Conn is closed.
func (c *Conn) reconnect() *websocket.Conn {
	backoff := reconnectBackoff
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
		}

		ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			continue
		}

		c.writeMu.Lock()
		c.ws = ws
		c.writeMu.Unlock()

		// Close may have landed between the check above and the dial. It
		// already closed the previous socket, so the fresh one is ours to
		// release.
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ws.Close()
			return nil
		}
		groups := make([]string, 0, len(c.subs))
		for group := range c.subs {
			groups = append(groups, group)
		}
		callbacks := make([]func(), 0, len(c.reconnects))
		for _, f := range c.reconnects {
			callbacks = append(callbacks, f)
		}
		c.mu.Unlock()

		for _, group := range groups {
			_ = c.sendEvent(model.EventSubscribe, model.SubscribePayload{Group: group})
		}
		for _, f := range callbacks {
			f()
		}
		return ws
	}
}

func (c *Conn) sendEvent(eventType string, payload any) error {
	event, err := model.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(event)
}

func (c *Conn) dropPending(seq int64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}
