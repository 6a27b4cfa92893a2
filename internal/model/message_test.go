package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateBody(t *testing.T) {
	att := &Attachment{URL: "http://x/uploads/a.png", Name: "a.png", Kind: KindImage}

	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{"text only", Message{Text: "hello"}, nil},
		{"file only", Message{File: att}, nil},
		{"both set", Message{Text: "hello", File: att}, ErrAmbiguousBody},
		{"neither set", Message{}, ErrEmptyBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.ValidateBody()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewReplySnapshot(t *testing.T) {
	t.Run("short text kept verbatim", func(t *testing.T) {
		snap := NewReplySnapshot(Message{Sender: "Ada", Text: "see you at noon"})
		require.Equal(t, "Ada", snap.Sender)
		require.Equal(t, "see you at noon", snap.Text)
	})

	t.Run("long text truncated with ellipsis", func(t *testing.T) {
		long := strings.Repeat("x", 200)
		snap := NewReplySnapshot(Message{Sender: "Ada", Text: long})
		require.Equal(t, strings.Repeat("x", 80)+"…", snap.Text)
	})

	t.Run("truncation counts runes not bytes", func(t *testing.T) {
		long := strings.Repeat("é", 81)
		snap := NewReplySnapshot(Message{Sender: "Ada", Text: long})
		require.Equal(t, strings.Repeat("é", 80)+"…", snap.Text)
	})

	t.Run("attachment summarized as placeholder", func(t *testing.T) {
		snap := NewReplySnapshot(Message{
			Sender: "Grace",
			File:   &Attachment{URL: "http://x/uploads/b.pdf", Name: "b.pdf", Kind: KindOther},
		})
		require.Equal(t, "[File]", snap.Text)
	})
}
