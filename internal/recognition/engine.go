package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autoshop-labs/invoice-pipeline/internal/common"
)

// Engine owns the shared recognition backend. The backend is an expensive
// stateful resource: it is initialized lazily on the first Acquire after
// startup or Shutdown, exactly once even under concurrent acquirers, and
// concurrent recognitions are bounded by a permit pool (default 1, for
// backends that cannot be used concurrently).
type Engine struct {
	backend Backend
	logger  *slog.Logger
	timeout time.Duration

	permits chan struct{}

	mu    sync.Mutex
	ready bool
}

type Option func(*Engine)

// WithPoolSize bounds how many sessions may recognize concurrently.
func WithPoolSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.permits = make(chan struct{}, n)
		}
	}
}

// WithRecognizeTimeout bounds each Recognize call.
func WithRecognizeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewEngine(backend Backend, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		backend: backend,
		logger:  logger,
		timeout: 2 * time.Minute,
		permits: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Acquire takes a permit and hands out a session bound to the initialized
// backend. Initialization is idempotent: once the backend is ready,
// subsequent acquirers reuse it; concurrent first acquirers serialize on
// the engine mutex so exactly one Init runs.
func (e *Engine) Acquire(ctx context.Context) (*Session, error) {
	select {
	case e.permits <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := e.ensureReady(ctx); err != nil {
		<-e.permits
		return nil, fmt.Errorf("%w: %v", common.ErrRecognition, err)
	}
	return &Session{engine: e}, nil
}

func (e *Engine) ensureReady(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil
	}
	e.logger.Info("initializing recognition backend")
	if err := e.backend.Init(ctx); err != nil {
		e.logger.Error("recognition backend init failed", "error", err)
		return err
	}
	e.ready = true
	return nil
}

// Shutdown terminates the backend. The next Acquire re-initializes a
// fresh instance instead of reusing the terminated one.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return
	}
	if err := e.backend.Close(); err != nil {
		e.logger.Error("recognition backend close failed", "error", err)
	}
	e.ready = false
}

// Session is a scoped handle on the engine. Close always returns the
// permit, including on the failure path; callers defer it immediately
// after Acquire.
type Session struct {
	engine *Engine
	once   sync.Once
}

// Recognize extracts raw text from the document at path, bounded by the
// engine's recognize timeout.
func (s *Session) Recognize(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.engine.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.engine.backend.Recognize(ctx, path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrRecognition, err)
	}
	s.engine.logger.Debug("recognition completed",
		"path", path,
		"bytes", len(text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

// Close releases the session's permit. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() { <-s.engine.permits })
}
