// Package bookview serves read-only order book snapshots and recent trades.
// It never mutates order or trade state. Responses come from a cache that
// is invalidated wholesale after every settlement rather than patched in
// place.
package bookview

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
)

const (
	snapshotKey = "bookview:snapshot"
	tradesKey   = "bookview:trades"

	// cachedTrades is how many trades the cache holds; requests for more
	// fall through to the store.
	cachedTrades = 100
)

// BookSource is the matching engine's book snapshot.
type BookSource interface {
	Book(depth int) (bids, asks []models.Order)
}

// TradeReader reads the trade log.
type TradeReader interface {
	RecentTrades(ctx context.Context, limit int) ([]models.Trade, error)
	LastTradePrice(ctx context.Context) (decimal.Decimal, bool, error)
}

// Cache stores serialized view responses. Implementations: in-process map,
// redis.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	Flush(ctx context.Context)
}

// Entry is one resting order as exposed to external consumers. User ids
// are deliberately absent.
type Entry struct {
	OrderID   int64           `json:"order_id"`
	Price     decimal.Decimal `json:"price"`
	Remaining decimal.Decimal `json:"remaining"`
	CreatedAt time.Time       `json:"created_at"`
}

// Snapshot is a point-in-time view of both sides of the book.
type Snapshot struct {
	Bids        []Entry   `json:"bids"`
	Asks        []Entry   `json:"asks"`
	GeneratedAt time.Time `json:"generated_at"`
}

// View is the read-only query service.
type View struct {
	src    BookSource
	trades TradeReader
	cache  Cache
	log    *logrus.Entry
}

func New(src BookSource, trades TradeReader, cache Cache, log *logrus.Entry) *View {
	if cache == nil {
		cache = NewMapCache()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &View{src: src, trades: trades, cache: cache, log: log}
}

// Invalidate drops all cached responses. Wired to the engine's trade hook
// so every settlement flushes the view.
func (v *View) Invalidate(ctx context.Context) {
	v.cache.Flush(ctx)
}

// Snapshot returns the book truncated to maxDepth orders per side
// (0 means full depth). The full-depth snapshot is cached; truncation
// happens per request.
func (v *View) Snapshot(ctx context.Context, maxDepth int) (*Snapshot, error) {
	full, err := v.fullSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := &Snapshot{
		Bids:        truncate(full.Bids, maxDepth),
		Asks:        truncate(full.Asks, maxDepth),
		GeneratedAt: full.GeneratedAt,
	}
	return out, nil
}

func (v *View) fullSnapshot(ctx context.Context) (*Snapshot, error) {
	if raw, ok := v.cache.Get(ctx, snapshotKey); ok {
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return &snap, nil
		}
		v.log.Warn("discarding undecodable cached snapshot")
	}

	bids, asks := v.src.Book(0)
	snap := &Snapshot{
		Bids:        toEntries(bids),
		Asks:        toEntries(asks),
		GeneratedAt: time.Now(),
	}
	if raw, err := json.Marshal(snap); err == nil {
		v.cache.Set(ctx, snapshotKey, raw)
	}
	return snap, nil
}

// RecentTrades returns up to limit trades, newest first.
func (v *View) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = cachedTrades
	}
	if limit > cachedTrades {
		return v.trades.RecentTrades(ctx, limit)
	}

	if raw, ok := v.cache.Get(ctx, tradesKey); ok {
		var cached []models.Trade
		if err := json.Unmarshal(raw, &cached); err == nil {
			if limit < len(cached) {
				cached = cached[:limit]
			}
			return cached, nil
		}
		v.log.Warn("discarding undecodable cached trades")
	}

	trades, err := v.trades.RecentTrades(ctx, cachedTrades)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	if raw, err := json.Marshal(trades); err == nil {
		v.cache.Set(ctx, tradesKey, raw)
	}
	if limit < len(trades) {
		trades = trades[:limit]
	}
	return trades, nil
}

// LastPrice returns the most recent trade price, if any trade exists.
func (v *View) LastPrice(ctx context.Context) (decimal.Decimal, bool, error) {
	return v.trades.LastTradePrice(ctx)
}

func toEntries(orders []models.Order) []Entry {
	entries := make([]Entry, len(orders))
	for i, o := range orders {
		entries[i] = Entry{
			OrderID:   o.ID,
			Price:     o.Price,
			Remaining: o.Remaining(),
			CreatedAt: o.CreatedAt,
		}
	}
	return entries
}

func truncate(entries []Entry, depth int) []Entry {
	if depth > 0 && depth < len(entries) {
		return entries[:depth]
	}
	return entries
}
