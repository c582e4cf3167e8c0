package mq

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"gomq-async/internal/types"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Option keys understood by Publishing. Unknown keys are ignored.
const (
	OptContentType     = "content_type"
	OptContentEncoding = "content_encoding"
	OptHeaders         = "headers"
	OptPersistent      = "persistent"
	OptPriority        = "priority"
	OptExpiration      = "expiration"
	OptCorrelationID   = "correlation_id"
	OptReplyTo         = "reply_to"
	OptType            = "type"
	OptAppID           = "app_id"
	OptUserID          = "user_id"
	OptMessageID       = "message_id"
	OptTimestamp       = "timestamp"
	OptMandatory       = "mandatory"
)

// Publishing translates a message into the AMQP properties it is sent
// with, plus the mandatory flag. Messages are persistent and carry their
// ID and creation time unless the options say otherwise.
func Publishing(msg types.Message) (amqp.Publishing, bool, error) {
	pub := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.CreatedAt,
		Body:         msg.Payload,
	}
	mandatory := false

	for key, v := range msg.Options {
		var err error
		switch key {
		case OptContentType:
			pub.ContentType, err = stringOption(key, v)
		case OptContentEncoding:
			pub.ContentEncoding, err = stringOption(key, v)
		case OptCorrelationID:
			pub.CorrelationId, err = stringOption(key, v)
		case OptReplyTo:
			pub.ReplyTo, err = stringOption(key, v)
		case OptType:
			pub.Type, err = stringOption(key, v)
		case OptAppID:
			pub.AppId, err = stringOption(key, v)
		case OptUserID:
			pub.UserId, err = stringOption(key, v)
		case OptMessageID:
			pub.MessageId, err = stringOption(key, v)
		case OptHeaders:
			pub.Headers, err = headersOption(key, v)
		case OptPersistent:
			var persistent bool
			persistent, err = boolOption(key, v)
			if persistent {
				pub.DeliveryMode = amqp.Persistent
			} else {
				pub.DeliveryMode = amqp.Transient
			}
		case OptPriority:
			pub.Priority, err = priorityOption(key, v)
		case OptExpiration:
			pub.Expiration, err = expirationOption(key, v)
		case OptTimestamp:
			ts, ok := v.(time.Time)
			if !ok {
				err = invalidOption(key, v)
			}
			pub.Timestamp = ts
		case OptMandatory:
			mandatory, err = boolOption(key, v)
		}
		if err != nil {
			return amqp.Publishing{}, false, err
		}
	}
	return pub, mandatory, nil
}

func invalidOption(key string, v any) error {
	return fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidOption, key, v)
}

func stringOption(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", invalidOption(key, v)
	}
	return s, nil
}

func boolOption(key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, invalidOption(key, v)
	}
	return b, nil
}

func headersOption(key string, v any) (amqp.Table, error) {
	switch h := v.(type) {
	case amqp.Table:
		return h, nil
	case map[string]any:
		return amqp.Table(h), nil
	case map[string]string:
		t := make(amqp.Table, len(h))
		for k, s := range h {
			t[k] = s
		}
		return t, nil
	default:
		return nil, invalidOption(key, v)
	}
}

func priorityOption(key string, v any) (uint8, error) {
	var n int64
	switch p := v.(type) {
	case uint8:
		return p, nil
	case int:
		n = int64(p)
	case int32:
		n = int64(p)
	case int64:
		n = p
	case float64:
		if p != math.Trunc(p) {
			return 0, invalidOption(key, v)
		}
		n = int64(p)
	default:
		return 0, invalidOption(key, v)
	}
	if n < 0 || n > math.MaxUint8 {
		return 0, fmt.Errorf("%w: %s must be between 0 and 255, got %d", ErrInvalidOption, key, n)
	}
	return uint8(n), nil
}

// expirationOption accepts either the raw AMQP string (milliseconds) or a
// time.Duration.
func expirationOption(key string, v any) (string, error) {
	switch e := v.(type) {
	case string:
		if _, err := strconv.ParseUint(e, 10, 64); err != nil {
			return "", fmt.Errorf("%w: %s must be milliseconds, got %q", ErrInvalidOption, key, e)
		}
		return e, nil
	case time.Duration:
		if e < 0 {
			return "", fmt.Errorf("%w: %s must not be negative", ErrInvalidOption, key)
		}
		return strconv.FormatInt(e.Milliseconds(), 10), nil
	default:
		return "", invalidOption(key, v)
	}
}
