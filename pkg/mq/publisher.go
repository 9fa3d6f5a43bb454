package mq

import "context"

// Publisher sends one message to the transport. key is appended to the
// publisher's routing key or topic prefix.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}
