package retry

import (
	"context"
	"net/http"
	"sync"
	"time"

	retrygo "github.com/avast/retry-go/v4"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/i18n"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

const DefaultMaxRetries = 3

// DefaultBackoff is the fixed schedule applied between attempts.
var DefaultBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

type Operation func(ctx context.Context) error

// Result is the terminal outcome of an Execute call. Err keeps the last
// attempt's error for logging; Code is stable for callers.
type Result struct {
	Success bool
	Code    types.AppCode
	Message string
	Err     error
}

// Executor wraps a fallible remote operation with bounded retries and
// error-class-based early abort. It knows nothing about sessions or
// messages, any remote call can be wrapped.
type Executor struct {
	maxRetries uint
	backoff    []time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

type Option func(*Executor)

func WithMaxRetries(n uint) Option {
	return func(e *Executor) {
		e.maxRetries = n
	}
}

func WithBackoff(schedule []time.Duration) Option {
	return func(e *Executor) {
		e.backoff = schedule
	}
}

func New(opts ...Option) *Executor {
	e := &Executor{
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) delayFor(n uint) time.Duration {
	if len(e.backoff) == 0 {
		return time.Second
	}
	if int(n) >= len(e.backoff) {
		return e.backoff[len(e.backoff)-1]
	}
	return e.backoff[n]
}

// Execute runs op with retries. Starting a new Execute on the same executor
// cancels any prior in-flight attempt for the same logical call.
func (e *Executor) Execute(ctx context.Context, op Operation) Result {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	callCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	var attemptCancel context.CancelFunc

	err := retrygo.Do(
		func() error {
			if attemptCancel != nil {
				attemptCancel()
			}
			var attemptCtx context.Context
			attemptCtx, attemptCancel = context.WithCancel(callCtx)
			return op(attemptCtx)
		},
		retrygo.Context(callCtx),
		retrygo.Attempts(e.maxRetries+1),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			return e.delayFor(n)
		}),
		retrygo.RetryIf(func(err error) bool {
			return !errors.IsPermanent(err)
		}),
		retrygo.LastErrorOnly(true),
	)
	if attemptCancel != nil {
		attemptCancel()
	}

	if err == nil {
		return Result{Success: true}
	}

	return Result{
		Success: false,
		Code:    classify(err),
		Message: err.Error(),
		Err:     err,
	}
}

func classify(err error) types.AppCode {
	switch errors.CodeOf(err) {
	case http.StatusForbidden, http.StatusUnauthorized:
		return types.CODE_PERMISSION_DENIED
	case http.StatusNotFound:
		return types.CODE_SESSION_NOT_FOUND
	case http.StatusConflict:
		return types.CODE_SESSION_EXISTS
	case http.StatusGone:
		// both "session is over" flavors arrive as 410; the message key
		// tells an idempotent re-end apart from a send into a dead session
		if errors.MessageOf(err) == i18n.ERROR_ALREADY_ENDED {
			return types.CODE_ALREADY_ENDED
		}
		return types.CODE_SESSION_ENDED
	}
	return types.CODE_RETRY_FAILED
}
