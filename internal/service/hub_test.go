package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/owesh74/Guftagu/internal/model"
)

// fakeHubStore is an in-memory HubStore keeping per-group ordered messages.
type fakeHubStore struct {
	mu       sync.Mutex
	groups   map[string]bool
	messages map[string][]model.Message
	nextID   int64
}

func newFakeHubStore(groups ...string) *fakeHubStore {
	s := &fakeHubStore{
		groups:   make(map[string]bool),
		messages: make(map[string][]model.Message),
	}
	for _, g := range groups {
		s.groups[g] = true
	}
	return s
}

func (s *fakeHubStore) GroupExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[name], nil
}

func (s *fakeHubStore) AppendMessage(_ context.Context, msg model.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	s.messages[msg.Group] = append(s.messages[msg.Group], msg)
	return msg.ID, nil
}

func (s *fakeHubStore) MessageCount(_ context.Context, group string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[group]), nil
}

func newTestHub(store HubStore) *Hub {
	return NewHub(store, zerolog.Nop(), 256)
}

// drain decodes every buffered broadcast on the client's Send channel.
func drain(t *testing.T, c *Client) []model.Message {
	t.Helper()
	var out []model.Message
	for {
		select {
		case data := <-c.Send:
			var event model.Event
			require.NoError(t, json.Unmarshal(data, &event))
			require.Equal(t, model.EventMessage, event.Type)
			var msg model.Message
			require.NoError(t, event.DecodeData(&msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHubPublishBroadcast(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(newFakeHubStore("lab42"))

	sender := hub.NewClient()
	other := hub.NewClient()
	hub.Register(sender)
	hub.Register(other)

	_, err := hub.Subscribe(ctx, sender.ID, "lab42")
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, other.ID, "lab42")
	require.NoError(t, err)

	msg, err := hub.Publish(ctx, model.PublishPayload{Group: "lab42", Sender: "Ada", Text: "hi"})
	require.NoError(t, err)
	require.NotZero(t, msg.ID)
	require.False(t, msg.CreatedAt.IsZero())

	// The sender renders from the broadcast too, never from a local echo.
	senderGot := drain(t, sender)
	otherGot := drain(t, other)
	require.Len(t, senderGot, 1)
	require.Len(t, otherGot, 1)
	require.Equal(t, msg.ID, senderGot[0].ID)
	require.Equal(t, "hi", otherGot[0].Text)
}

func TestHubPublishValidation(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(newFakeHubStore("lab42"))

	tests := []struct {
		name    string
		payload model.PublishPayload
		want    error
	}{
		{"unknown group", model.PublishPayload{Group: "nope", Sender: "Ada", Text: "hi"}, ErrGroupNotFound},
		{"missing sender", model.PublishPayload{Group: "lab42", Text: "hi"}, ErrInvalidMessage},
		{"empty body", model.PublishPayload{Group: "lab42", Sender: "Ada"}, ErrInvalidMessage},
		{
			"ambiguous body",
			model.PublishPayload{
				Group:  "lab42",
				Sender: "Ada",
				Text:   "hi",
				File:   &model.Attachment{URL: "http://x/uploads/a.png", Name: "a.png", Kind: model.KindImage},
			},
			ErrInvalidMessage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hub.Publish(ctx, tt.payload)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHubTotalOrder(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(newFakeHubStore("lab42"))

	a := hub.NewClient()
	b := hub.NewClient()
	hub.Register(a)
	hub.Register(b)
	_, err := hub.Subscribe(ctx, a.ID, "lab42")
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, b.ID, "lab42")
	require.NoError(t, err)

	const publishers = 8
	const perPublisher = 10

	errs := make(chan error, publishers*perPublisher)
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				_, err := hub.Publish(ctx, model.PublishPayload{
					Group:  "lab42",
					Sender: fmt.Sprintf("sender-%d", p),
					Text:   fmt.Sprintf("msg %d-%d", p, i),
				})
				errs <- err
			}
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	gotA := drain(t, a)
	gotB := drain(t, b)
	require.Len(t, gotA, publishers*perPublisher)
	require.Equal(t, gotA, gotB)

	// Timestamps are strictly increasing even when the clock stalls.
	for i := 1; i < len(gotA); i++ {
		require.True(t, gotA[i].CreatedAt.After(gotA[i-1].CreatedAt),
			"message %d not after %d", i, i-1)
		require.Greater(t, gotA[i].ID, gotA[i-1].ID)
	}
}

func TestHubSubscribeReturnsCount(t *testing.T) {
	ctx := context.Background()
	store := newFakeHubStore("lab42")
	hub := newTestHub(store)

	early := hub.NewClient()
	hub.Register(early)
	count, err := hub.Subscribe(ctx, early.ID, "lab42")
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = hub.Publish(ctx, model.PublishPayload{Group: "lab42", Sender: "Ada", Text: "one"})
	require.NoError(t, err)
	_, err = hub.Publish(ctx, model.PublishPayload{Group: "lab42", Sender: "Ada", Text: "two"})
	require.NoError(t, err)

	late := hub.NewClient()
	hub.Register(late)
	count, err = hub.Subscribe(ctx, late.ID, "lab42")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestHubSubscribeIdempotent(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(newFakeHubStore("lab42"))

	c := hub.NewClient()
	hub.Register(c)
	_, err := hub.Subscribe(ctx, c.ID, "lab42")
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, c.ID, "lab42")
	require.NoError(t, err)

	_, err = hub.Publish(ctx, model.PublishPayload{Group: "lab42", Sender: "Ada", Text: "once"})
	require.NoError(t, err)
	require.Len(t, drain(t, c), 1)
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(newFakeHubStore("lab42"))

	c := hub.NewClient()
	hub.Register(c)
	_, err := hub.Subscribe(ctx, c.ID, "lab42")
	require.NoError(t, err)

	hub.Unsubscribe(c.ID, "lab42")
	require.Zero(t, hub.RoomCount())

	_, err = hub.Publish(ctx, model.PublishPayload{Group: "lab42", Sender: "Ada", Text: "unseen"})
	require.NoError(t, err)
	require.Empty(t, drain(t, c))
}

func TestHubUnregister(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(newFakeHubStore("lab42"))

	c := hub.NewClient()
	hub.Register(c)
	_, err := hub.Subscribe(ctx, c.ID, "lab42")
	require.NoError(t, err)
	require.Equal(t, 1, hub.ClientCount())

	hub.Unregister(c.ID)
	require.Zero(t, hub.ClientCount())
	require.Zero(t, hub.RoomCount())

	// Send is closed so the transport writer terminates.
	_, open := <-c.Send
	require.False(t, open)

	// Publishing to the now-empty room still succeeds.
	_, err = hub.Publish(ctx, model.PublishPayload{Group: "lab42", Sender: "Ada", Text: "after"})
	require.NoError(t, err)
}
