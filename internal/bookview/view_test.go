package bookview

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type stubBook struct {
	calls int
	bids  []models.Order
	asks  []models.Order
}

func (b *stubBook) Book(depth int) ([]models.Order, []models.Order) {
	b.calls++
	return b.bids, b.asks
}

type stubTrades struct {
	calls  int
	trades []models.Trade
}

func (s *stubTrades) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	s.calls++
	out := s.trades
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubTrades) LastTradePrice(ctx context.Context) (decimal.Decimal, bool, error) {
	if len(s.trades) == 0 {
		return decimal.Zero, false, nil
	}
	return s.trades[0].Price, true, nil
}

func order(id int64, price, amount, filled string) models.Order {
	return models.Order{
		ID: id, UserID: 7, Side: models.SideBuy, Type: models.TypeLimit,
		Price: dec(price), Amount: dec(amount), Filled: dec(filled),
		Status: models.StatusPending, CreatedAt: time.Now(),
	}
}

func TestSnapshotCachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	book := &stubBook{
		bids: []models.Order{order(1, "0.95", "10", "4")},
		asks: []models.Order{order(2, "1.05", "5", "0")},
	}
	v := New(book, &stubTrades{}, NewMapCache(), nil)

	snap, err := v.Snapshot(ctx, 0)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Remaining.Equal(dec("6")), "remaining = amount - filled")
	assert.Equal(t, int64(2), snap.Asks[0].OrderID)

	// Cached: the source is not consulted again.
	_, err = v.Snapshot(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, book.calls)

	v.Invalidate(ctx)
	_, err = v.Snapshot(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, book.calls)
}

func TestSnapshotDepthTruncatesPerRequest(t *testing.T) {
	ctx := context.Background()
	book := &stubBook{
		bids: []models.Order{order(1, "0.95", "10", "0"), order(2, "0.90", "10", "0"), order(3, "0.85", "10", "0")},
	}
	v := New(book, &stubTrades{}, NewMapCache(), nil)

	snap, err := v.Snapshot(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, snap.Bids, 2)
	assert.Equal(t, int64(1), snap.Bids[0].OrderID, "best bid first")

	// A deeper request is served from the same cached full snapshot.
	snap, err = v.Snapshot(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, snap.Bids, 3)
	assert.Equal(t, 1, book.calls)
}

func TestRecentTradesCached(t *testing.T) {
	ctx := context.Background()
	src := &stubTrades{trades: []models.Trade{
		{ID: 2, Price: dec("1.01"), Amount: dec("1")},
		{ID: 1, Price: dec("1.00"), Amount: dec("2")},
	}}
	v := New(&stubBook{}, src, NewMapCache(), nil)

	trades, err := v.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(2), trades[0].ID)

	// Second read is a cache hit; a smaller limit trims the cached slice.
	trades, err = v.RecentTrades(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	assert.Equal(t, 1, src.calls)

	v.Invalidate(ctx)
	_, err = v.RecentTrades(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestRecentTradesLargeLimitBypassesCache(t *testing.T) {
	ctx := context.Background()
	src := &stubTrades{}
	v := New(&stubBook{}, src, NewMapCache(), nil)

	_, err := v.RecentTrades(ctx, cachedTrades+1)
	require.NoError(t, err)
	_, err = v.RecentTrades(ctx, cachedTrades+1)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "oversized limits always hit the store")
}

func TestLastPrice(t *testing.T) {
	ctx := context.Background()
	v := New(&stubBook{}, &stubTrades{trades: []models.Trade{{ID: 1, Price: dec("1.07")}}}, NewMapCache(), nil)

	price, ok, err := v.LastPrice(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, price.Equal(dec("1.07")))

	empty := New(&stubBook{}, &stubTrades{}, NewMapCache(), nil)
	_, ok, err = empty.LastPrice(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
