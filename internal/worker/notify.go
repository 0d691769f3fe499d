package worker

import (
	"context"

	"github.com/bassista/go_reel/internal/logger"
)

const (
	DefaultPushTitle = "Reel"
	DefaultPushBody  = "A new movie has been added!"
	DefaultPushIcon  = "/icons/icon-192x192.png"
)

// Notification is a system notification shown on behalf of the app.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
}

// Notifier displays notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

func (LogNotifier) Show(_ context.Context, n Notification) error {
	logger.WithComponent("notify").WithField("icon", n.Icon).Infof("%s: %s", n.Title, n.Body)
	return nil
}

// PushPayload is the body of a push message. Every field is optional.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
}

// notificationFor fills in defaults for missing payload fields.
func notificationFor(p PushPayload) Notification {
	n := Notification{Title: p.Title, Body: p.Body, Icon: p.Icon, Badge: DefaultPushIcon}
	if n.Title == "" {
		n.Title = DefaultPushTitle
	}
	if n.Body == "" {
		n.Body = DefaultPushBody
	}
	if n.Icon == "" {
		n.Icon = DefaultPushIcon
	}
	return n
}
