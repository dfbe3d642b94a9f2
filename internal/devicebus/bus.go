package devicebus

import (
	"context"
	"errors"
)

// Handler receives one decoded topic's payload; machineID comes from the
// topic, never from the payload.
type Handler func(ctx context.Context, machineID string, payload []byte)

// Bus abstracts the machine pub/sub channel. The redis implementation backs
// production; tests use the in-memory one.
type Bus interface {
	Publish(ctx context.Context, machineID string, t MessageType, message any) error
	Subscribe(ctx context.Context, t MessageType, h Handler) error
	Close() error
}

var ErrUnavailable = errors.New("device_channel_unavailable")
