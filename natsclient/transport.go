package natsclient

import "context"

// OriginHeader carries the id of the publishing process.
const OriginHeader = "Nestor-Origin"

// Message is one published notification.
type Message struct {
	Subject string
	Origin  string
	Data    []byte
}

// Handler receives subscribed messages.
type Handler func(ctx context.Context, msg Message)

// Transport is the publish/subscribe surface the bridge needs. Client
// implements it over NATS.
type Transport interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, subject string, handler Handler) (unsubscribe func() error, err error)
	Close(ctx context.Context) error
}

var _ Transport = (*Client)(nil)
