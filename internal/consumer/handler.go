package consumer

import (
	"log/slog"
)

// ErrorContext describes what was being published when an error was
// reported. Batch-level reports only set MessageCount; per-message reports
// from the degrade path set the remaining fields.
type ErrorContext struct {
	MessageCount int
	Route        string
	Destination  string
	Payload      []byte
	Options      map[string]any
}

// IsBatch reports whether the context describes a whole batch.
func (ec ErrorContext) IsBatch() bool { return ec.Destination == "" }

// ErrorHandler receives failures that the pipeline can't recover from in
// place. It is called synchronously from the consumer goroutine and should
// return quickly.
type ErrorHandler interface {
	HandleError(err error, ec ErrorContext)
}

// ErrorHandlerFunc adapts a plain function to ErrorHandler.
type ErrorHandlerFunc func(err error, ec ErrorContext)

func (f ErrorHandlerFunc) HandleError(err error, ec ErrorContext) { f(err, ec) }

// LogErrorHandler reports errors through slog. It's the default handler.
type LogErrorHandler struct{}

func (LogErrorHandler) HandleError(err error, ec ErrorContext) {
	if ec.IsBatch() {
		slog.Error("async publish: batch failed", "messages", ec.MessageCount, "error", err)
		return
	}
	slog.Error("async publish: message failed",
		"exchange", ec.Destination,
		"route", ec.Route,
		"bytes", len(ec.Payload),
		"error", err)
}

// safeHandle calls h and swallows any panic so a broken handler can't take
// the consumer down with it.
func safeHandle(h ErrorHandler, err error, ec ErrorContext) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("async publish: error handler panicked", "panic", r, "error", err)
		}
	}()
	h.HandleError(err, ec)
}
