package client

import "github.com/gen2brain/beeep"

// DesktopNotifier sends alerts through the OS notification daemon.
type DesktopNotifier struct{}

// PermissionGranted reports true unconditionally; on desktop the daemon owns
// the do-not-disturb state, not the application.
func (DesktopNotifier) PermissionGranted() bool { return true }

func (DesktopNotifier) Notify(title, body string) error {
	return beeep.Notify(title, body, "")
}
