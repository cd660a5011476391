package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"polyedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type Trade struct {
	Time      time.Time
	Wallet    string
	Asset     string
	Strategy  string
	Action    string
	Direction string
	Side      string
	Size      float64
	Price     float64
	HedgeType string
	OrderID   string
	Success   bool
	PanicMode bool
	Message   string
}

type Signal struct {
	Time       time.Time
	Wallet     string
	Asset      string
	Strategy   string
	Action     string
	Direction  string
	Edge       float64
	Confidence float64
	Reason     string
}

type PnLSnapshot struct {
	Time          time.Time
	Wallet        string
	Balance       float64
	Reserved      float64
	OpenPositions int
	HedgedCount   int
	UnrealizedPnL float64
	ExpectedPnL   float64
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Writer persists trades, signals and PnL snapshots to Postgres
// (TimescaleDB when available). A nil *Writer is a valid no-op journal.
type Writer struct {
	db     execer
	closer func() error
	log    *zap.Logger
	schema string
}

func New(cfg config.JournalConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("journal dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	w := newWriter(db, cfg.Schema, log)
	w.closer = db.Close
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func newWriter(db execer, schema string, log *zap.Logger) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{db: db, log: log, schema: schema}
}

func (w *Writer) Close() error {
	if w == nil || w.closer == nil {
		return nil
	}
	return w.closer()
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		wallet TEXT NOT NULL,
		asset TEXT NOT NULL,
		strategy TEXT NOT NULL,
		action TEXT NOT NULL,
		direction TEXT NOT NULL,
		side TEXT NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		hedge_type TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL,
		panic_mode BOOLEAN NOT NULL DEFAULT FALSE,
		message TEXT NOT NULL DEFAULT ''
	)`, w.table("trades"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		wallet TEXT NOT NULL,
		asset TEXT NOT NULL,
		strategy TEXT NOT NULL,
		action TEXT NOT NULL,
		direction TEXT NOT NULL,
		edge DOUBLE PRECISION NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		reason TEXT NOT NULL
	)`, w.table("signals"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		wallet TEXT NOT NULL,
		balance DOUBLE PRECISION NOT NULL,
		reserved DOUBLE PRECISION NOT NULL,
		open_positions INTEGER NOT NULL,
		hedged_positions INTEGER NOT NULL,
		unrealized_pnl DOUBLE PRECISION NOT NULL,
		expected_pnl DOUBLE PRECISION NOT NULL
	)`, w.table("pnl_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"trades", "signals", "pnl_snapshots"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) WriteTrade(ctx context.Context, t Trade) error {
	if w == nil {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, wallet, asset, strategy, action, direction, side, size, price,
		hedge_type, order_id, success, panic_mode, message
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, w.table("trades"))
	return w.exec(ctx, query,
		t.Time, t.Wallet, t.Asset, t.Strategy, t.Action, t.Direction, t.Side, t.Size, t.Price,
		t.HedgeType, t.OrderID, t.Success, t.PanicMode, t.Message,
	)
}

func (w *Writer) WriteSignal(ctx context.Context, s Signal) error {
	if w == nil {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, wallet, asset, strategy, action, direction, edge, confidence, reason
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, w.table("signals"))
	return w.exec(ctx, query,
		s.Time, s.Wallet, s.Asset, s.Strategy, s.Action, s.Direction, s.Edge, s.Confidence, s.Reason,
	)
}

func (w *Writer) WritePnL(ctx context.Context, p PnLSnapshot) error {
	if w == nil {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, wallet, balance, reserved, open_positions, hedged_positions, unrealized_pnl, expected_pnl
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("pnl_snapshots"))
	return w.exec(ctx, query,
		p.Time, p.Wallet, p.Balance, p.Reserved, p.OpenPositions, p.HedgedCount, p.UnrealizedPnL, p.ExpectedPnL,
	)
}

func (w *Writer) exec(ctx context.Context, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
