package client

import "github.com/owesh74/Guftagu/internal/model"

// Notifier delivers out-of-app alerts. The desktop implementation is backed
// by the OS notification daemon; tests substitute a recorder.
type Notifier interface {
	PermissionGranted() bool
	Notify(title, body string) error
}

// ShouldNotify decides whether a broadcast warrants an out-of-app alert.
// Own messages never notify, nor do messages arriving while the room is in
// the foreground, nor when the user has not granted permission.
func ShouldNotify(m model.Message, self string, foreground, permitted bool) bool {
	if m.Sender == self {
		return false
	}
	if foreground {
		return false
	}
	return permitted
}

// Summary renders the one-line alert body for a message. Attachment messages
// collapse to a fixed placeholder regardless of any caption.
func Summary(m model.Message) string {
	if m.File != nil {
		return "Sent a file"
	}
	return m.Text
}

// NotifyIfNeeded applies the policy and fires the alert. Delivery failures
// are swallowed; a missed toast must never disturb the message flow.
func NotifyIfNeeded(n Notifier, m model.Message, self string, foreground bool) {
	if n == nil {
		return
	}
	if !ShouldNotify(m, self, foreground, n.PermissionGranted()) {
		return
	}
	_ = n.Notify("New Message in "+m.Group, m.Sender+": "+Summary(m))
}
