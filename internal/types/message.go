package types

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidMessage is returned when a message can't be published as-is.
var ErrInvalidMessage = errors.New("invalid message")

// Message is one unit of outbound work. Treat it as immutable once built;
// use NewMessage so the payload and options are not shared with the caller.
type Message struct {
	ID          string         `json:"id"`
	Destination string         `json:"destination"`
	RoutingKey  string         `json:"routing_key"`
	Payload     []byte         `json:"payload"`
	Options     map[string]any `json:"options,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewMessage builds a Message bound for the given exchange.
func NewMessage(destination, routingKey string, payload []byte, options map[string]any) Message {
	m := Message{
		ID:          ulid.Make().String(),
		Destination: destination,
		RoutingKey:  routingKey,
		CreatedAt:   time.Now(),
	}
	if payload != nil {
		m.Payload = append([]byte(nil), payload...)
	}
	if options != nil {
		m.Options = maps.Clone(options)
	}
	return m
}

// MaxNameLength is the AMQP short-string limit that applies to exchange
// names and routing keys.
const MaxNameLength = 255

// Validate reports whether the message is well formed enough to publish.
// An empty destination is valid: it is the broker's default exchange,
// which routes by queue name.
func (m Message) Validate() error {
	if len(m.Destination) > MaxNameLength {
		return fmt.Errorf("%w: destination is %d bytes, limit is %d", ErrInvalidMessage, len(m.Destination), MaxNameLength)
	}
	if len(m.RoutingKey) > MaxNameLength {
		return fmt.Errorf("%w: routing key is %d bytes, limit is %d", ErrInvalidMessage, len(m.RoutingKey), MaxNameLength)
	}
	return nil
}
