package mq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrChannelClosed  = errors.New("channel not initialized")
	ErrConfirmTimeout = errors.New("timed out waiting for publisher confirms")
	ErrPublishNacked  = errors.New("broker nacked published messages")
	ErrInvalidOption  = errors.New("invalid publish option")
)

// NetworkError marks a failure as caused by broker connectivity.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err is a transient connectivity failure
// (connection or channel exceptions, I/O errors, timeouts). Those are
// retried in place; everything else is treated as unknown.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	// connection and channel exceptions, including amqp.ErrClosed
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return true
	}

	var opErr net.Error
	if errors.As(err, &opErr) {
		return true
	}

	switch {
	case errors.Is(err, ErrChannelClosed),
		errors.Is(err, ErrConfirmTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}
