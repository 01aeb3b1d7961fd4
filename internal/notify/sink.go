// Package notify formats alerts and delivers them through pluggable sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rewired-gh/polywatch/internal/logger"
)

// Sink delivers one human-readable message.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, text string) error

func (f SinkFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

// Multi fans a message out to every sink. It fails if any sink fails, after
// trying all of them.
type Multi []Sink

func (m Multi) Send(ctx context.Context, text string) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, text); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

// Console writes messages to w and logs them.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a sink writing to w. A nil w only logs.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Send(_ context.Context, text string) error {
	logger.Info("Alert:\n%s", text)
	if c.w == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s\n\n", text)
	return err
}
