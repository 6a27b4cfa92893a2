package client

import (
	"context"
	"sync"

	"github.com/owesh74/Guftagu/internal/model"
)

// SnapshotFetcher fetches a group's point-in-time state. Satisfied by Client.
type SnapshotFetcher interface {
	Snapshot(ctx context.Context, group string) (*model.GroupSnapshot, error)
}

// RoomConn is the slice of the event channel a room view needs. Satisfied by
// Conn.
type RoomConn interface {
	Subscribe(group string) (int, error)
	Unsubscribe(group string) error
	OnMessage(group string, h MessageHandler)
	OnReconnect(group string, f func())
}

// RoomView maintains a live, ordered view of one room: snapshot history plus
// every broadcast received since. The subscribe ack carries the relay's
// message count at subscription time; when it exceeds the snapshot length, a
// message landed in the gap between the two and the snapshot is re-fetched.
// The same re-fetch runs after every reconnect, since broadcasts missed while
// disconnected are never replayed.
type RoomView struct {
	group   string
	fetcher SnapshotFetcher
	conn    RoomConn

	mu         sync.Mutex
	characters []model.Character
	messages   []model.Message
	observe    func(model.Message)
}

func NewRoomView(group string, fetcher SnapshotFetcher, conn RoomConn) *RoomView {
	return &RoomView{group: group, fetcher: fetcher, conn: conn}
}

// Observe installs a callback fired for every broadcast appended to the view,
// after it is stored. Used for rendering and notification hooks. Must be set
// before Enter.
func (v *RoomView) Observe(f func(model.Message)) {
	v.mu.Lock()
	v.observe = f
	v.mu.Unlock()
}

// Enter loads the room. Order matters: the handler is installed before
// Subscribe so no broadcast can slip between ack and handler registration.
// Duplicates from the handler-before-snapshot window are filtered by ID.
func (v *RoomView) Enter(ctx context.Context) error {
	snap, err := v.fetcher.Snapshot(ctx, v.group)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.characters = snap.Characters
	v.messages = snap.Messages
	v.mu.Unlock()

	v.conn.OnMessage(v.group, v.appendMessage)
	v.conn.OnReconnect(v.group, func() {
		_ = v.refetch(context.Background())
	})

	count, err := v.conn.Subscribe(v.group)
	if err != nil {
		v.conn.OnMessage(v.group, nil)
		v.conn.OnReconnect(v.group, nil)
		return err
	}

	// A publish that committed after our snapshot but before our
	// subscription is in neither the snapshot nor the stream. The ack count
	// exposes it.
	if count > len(snap.Messages) {
		if err := v.refetch(ctx); err != nil {
			v.conn.OnMessage(v.group, nil)
			v.conn.OnReconnect(v.group, nil)
			_ = v.conn.Unsubscribe(v.group)
			return err
		}
	}
	return nil
}

// Leave releases the subscription and removes the handlers. Runs on every
// room exit path so a later re-entry starts clean.
func (v *RoomView) Leave() error {
	v.conn.OnMessage(v.group, nil)
	v.conn.OnReconnect(v.group, nil)
	return v.conn.Unsubscribe(v.group)
}

// Messages returns a copy of the ordered history.
func (v *RoomView) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// Characters returns a copy of the roster as of the last snapshot.
func (v *RoomView) Characters() []model.Character {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Character, len(v.characters))
	copy(out, v.characters)
	return out
}

func (v *RoomView) appendMessage(m model.Message) {
	v.mu.Lock()
	if v.containsLocked(m.ID) {
		v.mu.Unlock()
		return
	}
	v.messages = append(v.messages, m)
	observe := v.observe
	v.mu.Unlock()

	if observe != nil {
		observe(m)
	}
}

// refetch replaces the view with a fresh snapshot, then re-appends any held
// message the snapshot does not contain. A broadcast delivered while the
// snapshot response was in flight is already in the old list but may postdate
// the snapshot; dropping it would break the snapshot-plus-stream contract.
func (v *RoomView) refetch(ctx context.Context) error {
	snap, err := v.fetcher.Snapshot(ctx, v.group)
	if err != nil {
		return err
	}
	v.mu.Lock()
	held := v.messages
	v.characters = snap.Characters
	v.messages = snap.Messages
	for _, m := range held {
		if !v.containsLocked(m.ID) {
			v.messages = append(v.messages, m)
		}
	}
	v.mu.Unlock()
	return nil
}

func (v *RoomView) containsLocked(id int64) bool {
	for i := len(v.messages) - 1; i >= 0; i-- {
		if v.messages[i].ID == id {
			return true
		}
	}
	return false
}
