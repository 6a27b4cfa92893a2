package model

import "time"

// Group is a named chat room. The name is the room key: unique,
// case-sensitive, never renamed.
type Group struct {
	ID        int64     `json:"-"`
	Name      string    `json:"groupName"`
	CreatedAt time.Time `json:"createdAt"`
}

// Character is an alias scoped to one group, gated by a short numeric secret.
// The secret is immutable once created and is never serialized.
type Character struct {
	Name   string `json:"name"`
	Secret string `json:"-"`
}

// GroupSnapshot is the point-in-time read of a group used by clients entering
// a room: the character roster plus the full ordered message history.
type GroupSnapshot struct {
	Name       string      `json:"groupName"`
	Characters []Character `json:"characters"`
	Messages   []Message   `json:"messages"`
}
