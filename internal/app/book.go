package app

import (
	"sort"
	"sync"
	"time"

	"polyedge-bot/internal/state"
	"polyedge-bot/internal/strategy"
)

// Book is one wallet's positions plus its balance reservation. At most one
// position is tracked per asset.
type Book struct {
	mu        sync.Mutex
	positions map[string]strategy.Position
	balance   float64
	reserved  float64
}

func NewBook() *Book {
	return &Book{positions: make(map[string]strategy.Position)}
}

// Position returns a copy of the asset's position, or nil.
func (b *Book) Position(asset string) *strategy.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[asset]
	if !ok {
		return nil
	}
	return &pos
}

func (b *Book) Set(pos strategy.Position) {
	b.mu.Lock()
	b.positions[pos.Asset] = pos
	b.mu.Unlock()
}

func (b *Book) Clear(asset string) {
	b.mu.Lock()
	delete(b.positions, asset)
	b.mu.Unlock()
}

// Positions lists every tracked position ordered by asset.
func (b *Book) Positions() []strategy.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]strategy.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Reserve earmarks amount for an in-flight entry. The entry is allowed only
// while the unreserved balance covers twice the amount.
func (b *Book) Reserve(amount float64) bool {
	if amount <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balance-b.reserved < 2*amount {
		return false
	}
	b.reserved += amount
	return true
}

func (b *Book) Release(amount float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reserved -= amount
	if b.reserved < 0 {
		b.reserved = 0
	}
}

// SyncBalance records an exchange balance read. Spent funds are reflected in
// the new balance, so reservations start over.
func (b *Book) SyncBalance(balance float64) {
	b.mu.Lock()
	b.balance = balance
	b.reserved = 0
	b.mu.Unlock()
}

func (b *Book) Balance() (balance, reserved float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, b.reserved
}

func (b *Book) Snapshot(sniper map[string]strategy.SniperState, now time.Time) state.BookSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	positions := make(map[string]strategy.Position, len(b.positions))
	for asset, pos := range b.positions {
		positions[asset] = pos
	}
	return state.BookSnapshot{
		Positions:   positions,
		Sniper:      sniper,
		UpdatedAtMS: now.UnixMilli(),
	}
}

func (b *Book) Restore(snap state.BookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for asset, pos := range snap.Positions {
		if pos.Asset == "" {
			pos.Asset = asset
		}
		b.positions[asset] = pos
	}
}
