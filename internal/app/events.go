package app

import (
	"context"

	"polyedge-bot/internal/journal"

	"go.uber.org/zap"
)

type EventKind string

const (
	EventSignal EventKind = "signal"
	EventTrade  EventKind = "trade"
	EventPnL    EventKind = "pnl"
)

// Event is one journal record queued by the trading loops.
type Event struct {
	Kind   EventKind
	Signal journal.Signal
	Trade  journal.Trade
	PnL    journal.PnLSnapshot
}

// emit never blocks the trading loop. A full buffer drops the event.
func (a *App) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.metrics.EventsDropped.Inc()
	}
}

// Events exposes the queue for consumers that replace the journal drain.
func (a *App) Events() <-chan Event {
	return a.events
}

func (a *App) drainEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.flushEvents(context.WithoutCancel(ctx))
			return nil
		case ev := <-a.events:
			a.record(ctx, ev)
		}
	}
}

func (a *App) flushEvents(ctx context.Context) {
	for {
		select {
		case ev := <-a.events:
			a.record(ctx, ev)
		default:
			return
		}
	}
}

func (a *App) record(ctx context.Context, ev Event) {
	if a.journal == nil {
		return
	}
	var err error
	switch ev.Kind {
	case EventSignal:
		err = a.journal.WriteSignal(ctx, ev.Signal)
	case EventTrade:
		err = a.journal.WriteTrade(ctx, ev.Trade)
	case EventPnL:
		err = a.journal.WritePnL(ctx, ev.PnL)
	}
	if err != nil {
		a.log.Warn("journal write failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
