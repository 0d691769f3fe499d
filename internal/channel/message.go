package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// MessageType discriminates command channel messages. The values are the
// wire schema shared with any other client of the worker.
type MessageType string

const (
	CacheVideo      MessageType = "CACHE_VIDEO"
	DeleteVideo     MessageType = "DELETE_VIDEO"
	ClearVideoCache MessageType = "CLEAR_VIDEO_CACHE"
)

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrInvalidMessage = errors.New("invalid message")
	// ErrNotActive is returned by a controller that cannot take messages yet
	// (or anymore).
	ErrNotActive = errors.New("worker is not active")
	// ErrRejected marks a message the controller will never accept. It is not
	// retried.
	ErrRejected = errors.New("message rejected by controller")
)

// Message is one command sent from the foreground to the worker.
type Message struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url,omitempty"`
}

var validate = validator.New()

// Validate checks the type discriminator and, for per-URL commands, that URL
// is an absolute URL.
func (m Message) Validate() error {
	switch m.Type {
	case CacheVideo, DeleteVideo:
		if err := validate.Var(m.URL, "required,url"); err != nil {
			return fmt.Errorf("%w: %s needs an absolute url, got %q", ErrInvalidMessage, m.Type, m.URL)
		}
	case ClearVideoCache:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	return nil
}

func (m Message) String() string {
	if m.URL == "" {
		return string(m.Type)
	}
	return string(m.Type) + " " + m.URL
}

// Controller is the worker end of the channel as seen from the foreground.
// PostMessage is fire-and-forget: a nil error only means the message was
// accepted, not that it has been executed.
type Controller interface {
	PostMessage(ctx context.Context, m Message) error
}
