// Package shutdown runs registered cleanup hooks when the process stops.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"
)

type hook struct {
	id   int
	name string
	fn   func(ctx context.Context) error
}

// Hooks runs the registered hooks in reverse registration order, each
// bounded by a timeout. Run executes them at most once.
type Hooks struct {
	timeout time.Duration

	mx     sync.Mutex
	nextID int
	hooks  []hook
	ran    bool
}

func New(timeout time.Duration) *Hooks {
	return &Hooks{timeout: timeout}
}

// Register adds fn and returns a function removing it again.
func (h *Hooks) Register(name string, fn func(ctx context.Context) error) (unregister func()) {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.nextID++
	id := h.nextID
	h.hooks = append(h.hooks, hook{id: id, name: name, fn: fn})
	return func() {
		h.mx.Lock()
		defer h.mx.Unlock()
		h.hooks = slices.DeleteFunc(h.hooks, func(x hook) bool { return x.id == id })
	}
}

func (h *Hooks) Len() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return len(h.hooks)
}

// Run executes the hooks, later registrations first. A hook exceeding the
// timeout is abandoned and reported.
func (h *Hooks) Run(ctx context.Context) error {
	h.mx.Lock()
	if h.ran {
		h.mx.Unlock()
		return nil
	}
	h.ran = true
	hooks := slices.Clone(h.hooks)
	h.mx.Unlock()

	var errs []error
	for _, x := range slices.Backward(hooks) {
		if err := h.runOne(ctx, x); err != nil {
			slog.ErrorContext(ctx, "shutdown hook failed", "hook", x.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", x.name, err))
		}
	}
	return errors.Join(errs...)
}

func (h *Hooks) runOne(ctx context.Context, x hook) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- x.fn(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signals are the process signals triggering a shutdown.
var Signals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}

// SignalContext is canceled on the first of Signals.
func SignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, Signals...)
}

// ExitCode converts the outcome of a run and of its shutdown hooks into a
// process exit code. A run ended by cancellation is clean.
func ExitCode(runErr, hooksErr error) int {
	switch {
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		return 1
	case hooksErr != nil:
		return 2
	default:
		return 0
	}
}
