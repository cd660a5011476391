package state

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"polyedge-bot/internal/strategy"

	"github.com/vmihailenco/msgpack/v5"
)

const bookKeyPrefix = "book:"

// BookSnapshot is the persisted position book of one wallet.
type BookSnapshot struct {
	Positions   map[string]strategy.Position    `msgpack:"positions"`
	Sniper      map[string]strategy.SniperState `msgpack:"sniper"`
	UpdatedAtMS int64                           `msgpack:"updated_at_ms"`
}

func BookKey(wallet string) string {
	return bookKeyPrefix + wallet
}

func LoadBook(ctx context.Context, store Store, wallet string) (BookSnapshot, bool, error) {
	if store == nil {
		return BookSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, BookKey(wallet))
	if err != nil {
		return BookSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return BookSnapshot{}, false, nil
	}
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return BookSnapshot{}, false, fmt.Errorf("decode book: %w", err)
	}
	var snap BookSnapshot
	if err := msgpack.Unmarshal(payload, &snap); err != nil {
		return BookSnapshot{}, false, fmt.Errorf("unmarshal book: %w", err)
	}
	return snap, true, nil
}

func SaveBook(ctx context.Context, store Store, wallet string, snap BookSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal book: %w", err)
	}
	return store.Set(ctx, BookKey(wallet), base64.StdEncoding.EncodeToString(payload))
}
