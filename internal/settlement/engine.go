// Package settlement turns payments into consistent statement and wallet state.
//
// Every mutation runs as one unit of work through Store.Atomically: the statement,
// its new transaction and any wallet entries commit together or not at all.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/ledger"
	"villagepay.org/internal/obs"
	"villagepay.org/internal/stream"
)

const (
	DefaultOpTimeout   = 5 * time.Second
	DefaultMaxAttempts = 3
)

// Publisher receives change notifications after a unit of work commits.
type Publisher interface {
	Publish(evt stream.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(stream.Event) {}

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	// OpTimeout bounds each operation including lock waits and retries.
	OpTimeout time.Duration
	// MaxAttempts is how many times a unit of work runs before a conflict is returned.
	MaxAttempts     int
	VillageWalletID string
	Publisher       Publisher
	Now             func() time.Time
}

// Engine runs the billing settlement operations.
type Engine struct {
	store     Store
	timeout   time.Duration
	attempts  int
	villageID string
	pub       Publisher
	now       func() time.Time
}

// New returns an Engine over store.
func New(store Store, opts Options) *Engine {
	e := &Engine{
		store:     store,
		timeout:   opts.OpTimeout,
		attempts:  opts.MaxAttempts,
		villageID: opts.VillageWalletID,
		pub:       opts.Publisher,
		now:       opts.Now,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultOpTimeout
	}
	if e.attempts < 1 {
		e.attempts = DefaultMaxAttempts
	}
	if e.villageID == "" {
		e.villageID = ledger.VillageWalletID
	}
	if e.pub == nil {
		e.pub = nopPublisher{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Store exposes the underlying store for read paths such as exports.
func (e *Engine) Store() Store { return e.store }

// VillageWalletID is the identifier of the village wallet singleton.
func (e *Engine) VillageWalletID() string { return e.villageID }

func (e *Engine) clock() time.Time { return e.now().UTC() }

// withTimeout bounds read paths the same way run bounds units of work.
func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// run executes fn as a unit of work, retrying on conflicts. fn must be safe to
// re-run: it must derive everything from what it reads through Tx.
func (e *Engine) run(ctx context.Context, op string, keys []string, fn func(Tx) error) error {
	start := time.Now()
	defer func() { obs.ObserveEngineOp(op, time.Since(start)) }()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var err error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		err = e.store.Atomically(ctx, keys, fn)
		if !apperr.Retryable(err) {
			break
		}
		obs.RecordConflict()
		if attempt == e.attempts {
			break
		}
		backoff := time.Duration(attempt)*2*time.Millisecond + time.Duration(rand.Int63n(int64(3*time.Millisecond)))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return classify(op, ctx.Err())
		}
	}
	return classify(op, err)
}

// classify maps context and unexpected errors onto the apperr taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrInsufficientFunds), errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrInternal):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s timed out", apperr.ErrInternal, op)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s canceled", apperr.ErrInternal, op)
	default:
		return fmt.Errorf("%w: %s: %v", apperr.ErrInternal, op, err)
	}
}
