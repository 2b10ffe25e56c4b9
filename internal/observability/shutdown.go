package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ShutdownCoordinator runs named close handlers in reverse registration
// order, so a component is closed before whatever it was built on.
// Handlers run at most once; Shutdown after the first call is a no-op.
type ShutdownCoordinator struct {
	mu       sync.Mutex
	handlers []shutdownHandler
}

type shutdownHandler struct {
	name string
	fn   func(context.Context) error
}

// Register adds a handler to run on Shutdown.
func (s *ShutdownCoordinator) Register(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, shutdownHandler{name: name, fn: fn})
}

// Shutdown runs the registered handlers, last registered first. Every
// handler runs even when an earlier one fails; the failures are joined.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	handlers := s.handlers
	s.handlers = nil
	s.mu.Unlock()

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		start := time.Now()
		if err := h.fn(ctx); err != nil {
			slog.ErrorContext(ctx, "shutdown failed", "component", h.name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", h.name, err))
			continue
		}
		slog.DebugContext(ctx, "component closed", "component", h.name, "duration", time.Since(start))
	}
	return errors.Join(errs...)
}
