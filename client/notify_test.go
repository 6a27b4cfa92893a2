package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/owesh74/Guftagu/internal/model"
)

type recordingNotifier struct {
	permitted bool
	titles    []string
	bodies    []string
}

func (n *recordingNotifier) PermissionGranted() bool { return n.permitted }

func (n *recordingNotifier) Notify(title, body string) error {
	n.titles = append(n.titles, title)
	n.bodies = append(n.bodies, body)
	return nil
}

func TestShouldNotify(t *testing.T) {
	fromOther := model.Message{Group: "lab42", Sender: "Grace", Text: "hi"}
	fromSelf := model.Message{Group: "lab42", Sender: "Ada", Text: "hi"}

	tests := []struct {
		name       string
		msg        model.Message
		foreground bool
		permitted  bool
		want       bool
	}{
		{"other sender, background, permitted", fromOther, false, true, true},
		{"own message never notifies", fromSelf, false, true, false},
		{"foreground suppresses", fromOther, true, true, false},
		{"no permission suppresses", fromOther, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldNotify(tt.msg, "Ada", tt.foreground, tt.permitted)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSummary(t *testing.T) {
	require.Equal(t, "see you", Summary(model.Message{Text: "see you"}))
	require.Equal(t, "Sent a file", Summary(model.Message{
		File: &model.Attachment{URL: "http://x/uploads/a.png", Name: "a.png", Kind: model.KindImage},
	}))
}

func TestNotifyIfNeeded(t *testing.T) {
	msg := model.Message{Group: "lab42", Sender: "Grace", Text: "lunch?"}

	t.Run("fires with title and body", func(t *testing.T) {
		n := &recordingNotifier{permitted: true}
		NotifyIfNeeded(n, msg, "Ada", false)
		require.Equal(t, []string{"New Message in lab42"}, n.titles)
		require.Equal(t, []string{"Grace: lunch?"}, n.bodies)
	})

	t.Run("suppressed in foreground", func(t *testing.T) {
		n := &recordingNotifier{permitted: true}
		NotifyIfNeeded(n, msg, "Ada", true)
		require.Empty(t, n.titles)
	})

	t.Run("nil notifier is a no-op", func(t *testing.T) {
		NotifyIfNeeded(nil, msg, "Ada", false)
	})
}
