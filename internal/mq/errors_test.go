package mq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"gomq-async/internal/types"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "amqp closed", err: amqp.ErrClosed, want: true},
		{name: "wrapped channel exception", err: fmt.Errorf("publish: %w", &amqp.Error{Code: amqp.ChannelError, Reason: "channel error"}), want: true},
		{name: "network error wrapper", err: &NetworkError{Op: "dial", Err: errors.New("boom")}, want: true},
		{name: "net op error", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, want: true},
		{name: "confirm timeout", err: fmt.Errorf("%w after 1s", ErrConfirmTimeout), want: true},
		{name: "channel closed", err: ErrChannelClosed, want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "eof", err: io.EOF, want: true},
		{name: "unexpected eof", err: fmt.Errorf("read frame: %w", io.ErrUnexpectedEOF), want: true},
		{name: "connection reset", err: syscall.ECONNRESET, want: true},
		{name: "generic", err: errors.New("boom"), want: false},
		{name: "nacked", err: ErrPublishNacked, want: false},
		{name: "invalid option", err: ErrInvalidOption, want: false},
		{name: "invalid message", err: types.ErrInvalidMessage, want: false},
		{name: "canceled", err: context.Canceled, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNetworkError(tt.err))
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	inner := errors.New("dial tcp: refused")
	err := &NetworkError{Op: "connect", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "connect: dial tcp: refused", err.Error())
}
