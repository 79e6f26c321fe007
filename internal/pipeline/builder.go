package pipeline

import (
	"context"
	"errors"

	"github.com/sungwon/mailbatch/internal/message"
)

// ErrFatal marks a build error as systemic: wrapping it aborts the prepare
// phase of the whole batch instead of failing one message.
var ErrFatal = errors.New("pipeline: fatal prepare error")

// ErrStopped is returned when work is submitted to a stopped controller.
var ErrStopped = errors.New("pipeline: controller stopped")

// ErrInFlight is returned by Resend when every requested id is still owned
// by a running batch.
var ErrInFlight = errors.New("pipeline: messages are still in flight")

// Builder materializes one outgoing message. principal identifies on whose
// behalf the batch runs; builders that need elevated rights get it from
// here and never from ambient state.
type Builder interface {
	Build(ctx context.Context, principal string) (*message.Message, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, principal string) (*message.Message, error)

func (f BuilderFunc) Build(ctx context.Context, principal string) (*message.Message, error) {
	return f(ctx, principal)
}

// Prebuilt wraps a message that is already built.
func Prebuilt(m *message.Message) Builder {
	return BuilderFunc(func(context.Context, string) (*message.Message, error) {
		if m == nil {
			return nil, errors.New("pipeline: nil message")
		}
		return m, nil
	})
}

// Batch is one submission.
type Batch struct {
	// Principal is handed to every builder.
	Principal string
	// Type labels every message that does not carry its own type.
	Type     string
	Builders []Builder
}
