package model

import "encoding/json"

// Event is the envelope for everything that crosses the WebSocket channel,
// in both directions.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client -> relay event types.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventPublish     = "publish"
	EventPing        = "ping"
)

// Relay -> client event types.
const (
	EventSubscribed    = "subscribed"
	EventMessage       = "message"
	EventPublishResult = "publish_result"
	EventPong          = "pong"
)

// SubscribePayload announces interest in a room's broadcasts.
type SubscribePayload struct {
	Group string `json:"group"`
}

// SubscribedPayload acknowledges a subscription. Messages carries the room's
// current message count so the client can detect a snapshot gap and re-fetch.
type SubscribedPayload struct {
	Group    string `json:"group"`
	Messages int    `json:"messages"`
}

// PublishPayload submits a message for append and broadcast. Seq is a
// client-chosen number echoed back in the matching PublishResultPayload.
type PublishPayload struct {
	Seq     int64          `json:"seq"`
	Group   string         `json:"group"`
	Sender  string         `json:"sender"`
	Text    string         `json:"text,omitempty"`
	File    *Attachment    `json:"file,omitempty"`
	ReplyTo *ReplySnapshot `json:"replyTo,omitempty"`
}

// PublishResultPayload reports the outcome of a single publish back to the
// publishing connection only. The broadcast itself goes out separately.
type PublishResultPayload struct {
	Seq     int64  `json:"seq"`
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Publish result codes.
const (
	CodeGroupNotFound  = "group_not_found"
	CodeInvalidMessage = "invalid_message"
	CodeInternal       = "internal"
)

// NewEvent wraps v as the payload of a typed event.
func NewEvent(eventType string, v any) (Event, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: data}, nil
}

// DecodeData unmarshals the event payload into v.
func (e Event) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}
