package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"polyedge-bot/internal/state"

	"go.uber.org/zap"
)

const (
	defaultAttempts      = 5
	defaultBackoff       = 200 * time.Millisecond
	defaultPanicDiscount = 0.01
)

type Executor struct {
	placer OrderPlacer
	store  state.Store
	log    *zap.Logger

	attempts      int
	backoff       time.Duration
	panicDiscount float64

	mu    sync.Mutex
	cache map[string]Fill
}

func New(placer OrderPlacer, store state.Store, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		placer:        placer,
		store:         store,
		log:           log,
		attempts:      defaultAttempts,
		backoff:       defaultBackoff,
		panicDiscount: defaultPanicDiscount,
		cache:         make(map[string]Fill),
	}
}

// WithPanicDiscount sets how far below the best bid a one-legged
// arbitrage is unwound.
func (e *Executor) WithPanicDiscount(discount float64) *Executor {
	e.panicDiscount = discount
	return e
}

// PlaceOrder submits an order once. Failures that happened before
// submission are retried with backoff; a timeout or transport error on the
// submission itself is returned as is and the decision is left to the next
// tick. Orders carrying a client order id are idempotent: a fill already recorded for that id is returned
// without touching the exchange.
func (e *Executor) PlaceOrder(ctx context.Context, order Order) (Fill, error) {
	if order.ClientOrderID == "" {
		return e.placeWithRetry(ctx, order)
	}
	cacheKey := "cloid:" + order.ClientOrderID
	e.mu.Lock()
	if fill, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return fill, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		raw, ok, err := e.store.Get(ctx, cacheKey)
		if err != nil {
			return Fill{}, err
		}
		if ok {
			var fill Fill
			if err := json.Unmarshal([]byte(raw), &fill); err == nil {
				e.remember(cacheKey, fill)
				return fill, nil
			}
			e.log.Warn("discarding unreadable cached fill", zap.String("cloid", order.ClientOrderID))
		}
	}
	fill, err := e.placeWithRetry(ctx, order)
	if err != nil {
		return Fill{}, err
	}
	if e.store != nil {
		payload, _ := json.Marshal(fill)
		if err := e.store.Set(ctx, cacheKey, string(payload)); err != nil {
			e.log.Warn("failed to persist fill", zap.Error(err))
		}
	}
	e.remember(cacheKey, fill)
	return fill, nil
}

func (e *Executor) remember(key string, fill Fill) {
	e.mu.Lock()
	e.cache[key] = fill
	e.mu.Unlock()
}

func (e *Executor) placeWithRetry(ctx context.Context, order Order) (Fill, error) {
	var fill Fill
	err := e.retry(ctx, func() error {
		var err error
		fill, err = e.placer.PlaceOrder(ctx, order)
		return err
	})
	if err != nil {
		return Fill{}, err
	}
	if !fill.Filled || fill.Size <= 0 {
		return Fill{}, fmt.Errorf("%s %s %s: %w", order.Side, order.Asset, order.Direction, ErrNotFilled)
	}
	return fill, nil
}

func retryable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && errors.Is(err, ErrNotSubmitted)
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := e.backoff
	for attempt := 0; attempt < e.attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) {
			return err
		}
		if attempt == e.attempts-1 {
			return fmt.Errorf("retry failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}
