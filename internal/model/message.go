package model

import (
	"errors"
	"time"
	"unicode/utf8"
)

type AttachmentKind string

const (
	KindImage AttachmentKind = "image"
	KindOther AttachmentKind = "other"
)

// Attachment describes an already-uploaded file. The binary payload never
// travels through the relay; only the stable URL does.
type Attachment struct {
	URL  string         `json:"url"`
	Name string         `json:"name"`
	Kind AttachmentKind `json:"kind"`
}

// ReplySnapshot is an embedded copy of the referenced message's sender and a
// short display form of its content. It is a copy, not a reference, so reply
// context survives even if the original message is pruned from the store.
type ReplySnapshot struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

const replyPreviewLimit = 80

// NewReplySnapshot builds the embedded reply context for m. Attachment
// messages are summarized as "[File]".
func NewReplySnapshot(m Message) ReplySnapshot {
	text := m.Text
	if m.File != nil {
		text = "[File]"
	}
	if utf8.RuneCountInString(text) > replyPreviewLimit {
		runes := []rune(text)
		text = string(runes[:replyPreviewLimit]) + "…"
	}
	return ReplySnapshot{Sender: m.Sender, Text: text}
}

var (
	ErrEmptyBody     = errors.New("message has neither text nor attachment")
	ErrAmbiguousBody = errors.New("message has both text and attachment")
)

// Message is a single chat message. The body is a tagged variant: exactly one
// of Text or File is set, enforced by ValidateBody at the relay boundary.
type Message struct {
	ID        int64          `json:"id,omitempty"`
	Group     string         `json:"group"`
	Sender    string         `json:"sender"`
	Text      string         `json:"text,omitempty"`
	File      *Attachment    `json:"file,omitempty"`
	ReplyTo   *ReplySnapshot `json:"replyTo,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ValidateBody rejects messages where the text/attachment variant is
// malformed: both populated or neither.
func (m Message) ValidateBody() error {
	hasText := m.Text != ""
	hasFile := m.File != nil
	switch {
	case hasText && hasFile:
		return ErrAmbiguousBody
	case !hasText && !hasFile:
		return ErrEmptyBody
	}
	return nil
}
