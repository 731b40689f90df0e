// Package bootstrap provides application lifecycle helpers.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const defaultShutdownTimeout = 10 * time.Second

type background struct {
	name string
	fn   func(ctx context.Context) error
}

// App manages application lifecycle with graceful shutdown support.
type App struct {
	mu              sync.Mutex
	hooks           []func(ctx context.Context) error
	background      []background
	shutdownTimeout time.Duration
}

// New creates a new App.
func New() *App {
	return &App{shutdownTimeout: defaultShutdownTimeout}
}

// AddShutdownHook registers a function to call during graceful shutdown.
// Hooks run in reverse order (LIFO). Thread-safe.
func (a *App) AddShutdownHook(fn func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, fn)
}

// Go registers a goroutine that Run starts next to the run function and
// stops with the same context. An error from fn stops the application.
func (a *App) Go(name string, fn func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.background = append(a.background, background{name: name, fn: fn})
}

// Run sets up signal handling and executes the run function and the
// background goroutines. Whatever ends first, an interrupt, run returning
// or a background failure, the context is cancelled, background goroutines
// are awaited and shutdown hooks run in LIFO order.
func (a *App) Run(ctx context.Context, run func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	tasks := append([]background(nil), a.background...)
	a.mu.Unlock()

	var wg sync.WaitGroup
	bgErrCh := make(chan error, len(tasks))
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := task.fn(ctx); err != nil && ctx.Err() == nil {
				bgErrCh <- fmt.Errorf("%s: %w", task.name, err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		slog.Default().Info("shutting down")
	case err = <-errCh:
	case err = <-bgErrCh:
	}

	cancel()
	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancelShutdown()
	return errors.Join(err, a.shutdown(shutdownCtx))
}

func (a *App) shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for i := len(a.hooks) - 1; i >= 0; i-- {
		if err := a.hooks[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
