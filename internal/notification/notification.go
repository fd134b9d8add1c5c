// Package notification provides cross-platform desktop notifications.
// It uses the beeep library to send notifications on macOS, Linux, and Windows.
package notification

import (
	"github.com/gen2brain/beeep"

	"github.com/helmsman-cli/helmsman/internal/logger"
)

// notifyFn is swappable for tests.
var notifyFn = beeep.Notify

// Enabled gates all notifications; set from config at startup.
var Enabled = true

// Send sends a desktop notification with the given title and message.
// Failures are logged and returned but never treated as fatal by callers.
func Send(title, message string) error {
	if !Enabled {
		return nil
	}
	logger.Debug("notification: title=%q message=%q", title, message)
	err := notifyFn(title, message, "")
	if err != nil {
		logger.Warn("notification: failed to send: %v", err)
	}
	return err
}

// ShipCompleted announces a finished ship pipeline. prURL may be empty when
// no pull request was created.
func ShipCompleted(branch, prURL string) error {
	msg := "Shipped " + branch
	if prURL != "" {
		msg += ": " + prURL
	}
	return Send("Helmsman", msg)
}

// ShipFailed announces a failed ship pipeline.
func ShipFailed(branch string) error {
	return Send("Helmsman", "Ship failed for "+branch)
}

// SessionErrored announces a session whose backing process died.
func SessionErrored(name string) error {
	return Send("Helmsman", name+" hit an error")
}
