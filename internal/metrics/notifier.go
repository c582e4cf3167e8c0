package metrics

import "time"

// Notifier receives fire-and-forget events from the async publishing
// pipeline. Implementations must not block and must not panic; nothing in
// the pipeline depends on whether a notification was recorded.
type Notifier interface {
	MessageDropped()
	WaitForAsyncQueue(waited time.Duration)
	AsyncQueueSize(depth int)
	MessagePublished(destination string, count int, elapsed time.Duration)
	PublishFailed(class string)
	ConsumerRestarted()
	ConnectionBlocked(reason string)
	ConnectionUnblocked()
}

// Error classes reported through PublishFailed.
const (
	ClassNetwork = "network"
	ClassUnknown = "unknown"
)

// Nop discards every notification.
type Nop struct{}

func (Nop) MessageDropped() {}
func (Nop) WaitForAsyncQueue(time.Duration) {}
func (Nop) AsyncQueueSize(int) {}
func (Nop) MessagePublished(string, int, time.Duration) {}
func (Nop) PublishFailed(string) {}
func (Nop) ConsumerRestarted() {}
func (Nop) ConnectionBlocked(string) {}
func (Nop) ConnectionUnblocked() {}
