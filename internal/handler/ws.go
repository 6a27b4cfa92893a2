package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/owesh74/Guftagu/internal/model"
	"github.com/owesh74/Guftagu/internal/service"
)

const readDeadline = 60 * time.Second

type WSHandler struct {
	hub *service.Hub
	log zerolog.Logger
}

func NewWSHandler(hub *service.Hub, log zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(h.handleConnection)(c)
	}
	return fiber.ErrUpgradeRequired
}

// handleConnection runs one client's channel for its whole life: a writer
// goroutine drains the hub's Send buffer, the read loop dispatches inbound
// events. Identity is not tracked here — the publish payload carries the
// client-asserted sender; requiring the credential pair per publish would be
// the place to close the spoofing gap.
func (h *WSHandler) handleConnection(c *websocket.Conn) {
	client := h.hub.NewClient()
	h.hub.Register(client)
	defer h.hub.Unregister(client.ID)

	// Writer goroutine
	go func() {
		defer c.Close()
		for msg := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	c.SetReadDeadline(time.Now().Add(readDeadline))
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			break
		}
		c.SetReadDeadline(time.Now().Add(readDeadline))

		var event model.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}

		switch event.Type {
		case model.EventPing:
			h.send(client, model.Event{Type: model.EventPong})

		case model.EventSubscribe:
			var sub model.SubscribePayload
			if err := event.DecodeData(&sub); err != nil || sub.Group == "" {
				continue
			}
			count, err := h.hub.Subscribe(context.Background(), client.ID, sub.Group)
			if err != nil {
				h.log.Error().Err(err).Str("group", sub.Group).Msg("subscribe failed")
				continue
			}
			h.sendEvent(client, model.EventSubscribed, model.SubscribedPayload{
				Group:    sub.Group,
				Messages: count,
			})

		case model.EventUnsubscribe:
			var sub model.SubscribePayload
			if err := event.DecodeData(&sub); err != nil || sub.Group == "" {
				continue
			}
			h.hub.Unsubscribe(client.ID, sub.Group)

		case model.EventPublish:
			var pub model.PublishPayload
			if err := event.DecodeData(&pub); err != nil {
				continue
			}
			h.handlePublish(client, pub)

		default:
			h.log.Debug().Str("type", event.Type).Msg("unknown event type")
		}
	}
}

// handlePublish reports the outcome back to the publishing connection only;
// the broadcast (if any) fans out through the hub. A rejected publish is a
// no-op for everyone else.
func (h *WSHandler) handlePublish(client *service.Client, pub model.PublishPayload) {
	result := model.PublishResultPayload{Seq: pub.Seq, OK: true}

	_, err := h.hub.Publish(context.Background(), pub)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrGroupNotFound):
		result = model.PublishResultPayload{Seq: pub.Seq, Code: model.CodeGroupNotFound, Message: "Group not found"}
	case errors.Is(err, service.ErrInvalidMessage):
		result = model.PublishResultPayload{Seq: pub.Seq, Code: model.CodeInvalidMessage, Message: err.Error()}
	default:
		h.log.Error().Err(err).Str("group", pub.Group).Msg("publish failed")
		result = model.PublishResultPayload{Seq: pub.Seq, Code: model.CodeInternal, Message: "failed to publish"}
	}

	h.sendEvent(client, model.EventPublishResult, result)
}

func (h *WSHandler) sendEvent(client *service.Client, eventType string, payload any) {
	event, err := model.NewEvent(eventType, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", eventType).Msg("marshal event")
		return
	}
	h.send(client, event)
}

func (h *WSHandler) send(client *service.Client, event model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}
