package amqpengine

import "errors"

var (
	// ErrNotOpen is returned by EnqueueSend when the handshake
	// (open/begin/attach) has not completed, or the engine has since closed.
	ErrNotOpen = errors.New("amqpengine: connection is not open")

	// ErrClosed is returned by FeedInbound once the engine has closed,
	// whether by Close or by the peer's close performative.
	ErrClosed = errors.New("amqpengine: connection is closed")

	// ErrUnknownDeliveryTag is returned by complete() when the tag does not
	// correspond to an outstanding inbound delivery.
	ErrUnknownDeliveryTag = errors.New("amqpengine: unknown delivery tag")
)
