package exchange

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
)

// book holds the resting limit orders for one instrument. Bids are kept
// highest price first, asks lowest price first; equal prices are broken by
// creation time, then order id, so iteration order is deterministic. The
// engine's mutex guards all access.
type book struct {
	bids []*models.Order
	asks []*models.Order
}

func newBook() *book {
	return &book{}
}

// add inserts a resting order and re-sorts its side.
func (b *book) add(o *models.Order) {
	if o.Side == models.SideBuy {
		b.bids = append(b.bids, o)
		sort.Slice(b.bids, func(i, j int) bool { return bidLess(b.bids[i], b.bids[j]) })
	} else {
		b.asks = append(b.asks, o)
		sort.Slice(b.asks, func(i, j int) bool { return askLess(b.asks[i], b.asks[j]) })
	}
}

// bidLess orders bids best-first for a seller: highest price, then earliest.
func bidLess(a, b *models.Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.GreaterThan(b.Price)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// askLess orders asks best-first for a buyer: lowest price, then earliest.
func askLess(a, b *models.Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.LessThan(b.Price)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// get returns the resting order with the given id, or nil.
func (b *book) get(orderID int64) *models.Order {
	for _, o := range b.bids {
		if o.ID == orderID {
			return o
		}
	}
	for _, o := range b.asks {
		if o.ID == orderID {
			return o
		}
	}
	return nil
}

// remove drops an order from whichever side holds it.
func (b *book) remove(orderID int64) bool {
	for i, o := range b.bids {
		if o.ID == orderID {
			b.bids = append(b.bids[:i], b.bids[i+1:]...)
			return true
		}
	}
	for i, o := range b.asks {
		if o.ID == orderID {
			b.asks = append(b.asks[:i], b.asks[i+1:]...)
			return true
		}
	}
	return false
}

// bestOpposing returns the best price on the side a taker of takerSide
// would match against.
func (b *book) bestOpposing(takerSide models.Side) (decimal.Decimal, bool) {
	if takerSide == models.SideBuy {
		if len(b.asks) == 0 {
			return decimal.Zero, false
		}
		return b.asks[0].Price, true
	}
	if len(b.bids) == 0 {
		return decimal.Zero, false
	}
	return b.bids[0].Price, true
}

// candidates returns the opposing orders marketable against a taker, best
// price first. The slice is computed once per submission; fills mutate the
// pointed-to orders, so later iterations see earlier fills.
func (b *book) candidates(takerSide models.Side, takerType models.OrderType, limit decimal.Decimal) []*models.Order {
	var out []*models.Order
	if takerSide == models.SideBuy {
		for _, ask := range b.asks {
			if takerType == models.TypeLimit && ask.Price.GreaterThan(limit) {
				break // asks are sorted ascending; nothing further is marketable
			}
			out = append(out, ask)
		}
		return out
	}
	for _, bid := range b.bids {
		if takerType == models.TypeLimit && bid.Price.LessThan(limit) {
			break // bids are sorted descending
		}
		out = append(out, bid)
	}
	return out
}

// snapshot copies up to depth orders per side, preserving priority order.
func (b *book) snapshot(depth int) (bids, asks []models.Order) {
	n := len(b.bids)
	if depth > 0 && depth < n {
		n = depth
	}
	bids = make([]models.Order, n)
	for i := 0; i < n; i++ {
		bids[i] = *b.bids[i]
	}
	n = len(b.asks)
	if depth > 0 && depth < n {
		n = depth
	}
	asks = make([]models.Order, n)
	for i := 0; i < n; i++ {
		asks[i] = *b.asks[i]
	}
	return bids, asks
}
