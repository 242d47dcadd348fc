// Package exchange implements the order-matching engine: validation,
// pre-trade balance checks, the price-time priority book walk, and order
// cancellation. All submissions and cancels for the instrument serialize
// through one mutex held from validation to the last settlement, so two
// concurrent takers can never consume the same resting order.
package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
)

// SelfTradePolicy controls what happens when a taker's candidate list
// contains the taker's own resting order.
type SelfTradePolicy int

const (
	// SelfTradeSkip walks past own orders and continues with the next
	// candidate.
	SelfTradeSkip SelfTradePolicy = iota
	// SelfTradeReject refuses the whole submission before any fill.
	SelfTradeReject
)

// MarketRemainderPolicy controls the unfilled remainder of a market order
// once the opposing book is exhausted.
type MarketRemainderPolicy int

const (
	// MarketRemainderDiscard cancels the unfilled remainder instead of
	// resting it. Inherited from the source system; kept as a named policy
	// so product can flip it without touching the match loop.
	MarketRemainderDiscard MarketRemainderPolicy = iota
)

// OrderRepository is the durable store of orders.
type OrderRepository interface {
	CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	// CancelOrder marks an open order cancelled. It must fail if the order
	// is already filled or cancelled.
	CancelOrder(ctx context.Context, orderID int64) error
	// OpenOrders returns orders with status pending or partially_filled.
	OpenOrders(ctx context.Context) ([]models.Order, error)
}

// BalanceReader is the read side of the wallet ledger, used only for the
// pre-trade check. Mutation happens exclusively inside settlement.
type BalanceReader interface {
	Wallet(ctx context.Context, userID int64) (*models.Wallet, error)
}

// PriceSource supplies a last-trade price when the opposing book is empty
// and a market order needs a reference price for its balance check.
type PriceSource interface {
	LastTradePrice(ctx context.Context) (decimal.Decimal, bool, error)
}

// Settler applies one fill atomically. Implemented by settlement.Coordinator.
type Settler interface {
	Settle(ctx context.Context, buy, sell *models.Order, fillAmount, fillPrice decimal.Decimal, makerSide models.Side) (*models.Trade, error)
}

// SubmitRequest is a new order from the intake API.
type SubmitRequest struct {
	UserID int64
	Side   models.Side
	Type   models.OrderType
	Amount decimal.Decimal
	Price  decimal.Decimal // required for limit, ignored for market
}

// SubmitResult reports the accepted order, its fills, and what is left.
type SubmitResult struct {
	Order     *models.Order
	Trades    []models.Trade
	Remaining decimal.Decimal
	// Discarded is the market-order remainder dropped under
	// MarketRemainderDiscard; zero for limit orders.
	Discarded decimal.Decimal
}

// TradeHook observes settled trades. Hooks run after the engine releases
// its lock and must not block for long.
type TradeHook func(models.Trade)

// Engine matches incoming orders against the resting book.
type Engine struct {
	mu   sync.Mutex
	book *book

	orders  OrderRepository
	wallets BalanceReader
	prices  PriceSource
	settler Settler

	selfTrade       SelfTradePolicy
	marketRemainder MarketRemainderPolicy

	hooks []TradeHook
	log   *logrus.Entry
}

// Option configures an Engine.
type Option func(*Engine)

// WithSelfTradePolicy overrides the default SelfTradeSkip.
func WithSelfTradePolicy(p SelfTradePolicy) Option {
	return func(e *Engine) { e.selfTrade = p }
}

func NewEngine(orders OrderRepository, wallets BalanceReader, prices PriceSource, settler Settler, log *logrus.Entry, opts ...Option) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	e := &Engine{
		book:            newBook(),
		orders:          orders,
		wallets:         wallets,
		prices:          prices,
		settler:         settler,
		selfTrade:       SelfTradeSkip,
		marketRemainder: MarketRemainderDiscard,
		log:             log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnTrade registers a hook invoked for every settled trade. Register before
// serving traffic; registration is not synchronized with Submit.
func (e *Engine) OnTrade(h TradeHook) {
	e.hooks = append(e.hooks, h)
}

// Restore rebuilds the resting book from open orders in storage. Market
// orders never rest, so only limit orders are loaded.
func (e *Engine) Restore(ctx context.Context) error {
	open, err := e.orders.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range open {
		if open[i].Type != models.TypeLimit {
			continue
		}
		o := open[i]
		e.book.add(&o)
	}
	e.log.WithField("orders", len(open)).Info("order book restored")
	return nil
}

// Submit validates, balance-checks, persists, and matches a new order.
// Fills settle synchronously in price-time priority; a settlement failure
// aborts the remaining fills and is returned alongside the partial result.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	res, trades, err := e.submitLocked(ctx, req)
	for _, t := range trades {
		for _, h := range e.hooks {
			h(t)
		}
	}
	return res, err
}

func (e *Engine) submitLocked(ctx context.Context, req SubmitRequest) (*SubmitResult, []models.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	refPrice, err := e.referencePrice(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	candidates := e.book.candidates(req.Side, req.Type, req.Price)

	if e.selfTrade == SelfTradeReject {
		for _, c := range candidates {
			if c.UserID == req.UserID {
				return nil, nil, invalidf("order would self-trade against order %d", c.ID)
			}
		}
	}

	if err := e.checkBalance(ctx, req, refPrice); err != nil {
		return nil, nil, err
	}

	order, err := e.orders.CreateOrder(ctx, &models.Order{
		UserID: req.UserID,
		Side:   req.Side,
		Type:   req.Type,
		Price:  req.Price,
		Amount: req.Amount,
		Filled: decimal.Zero,
		Status: models.StatusPending,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create order: %w", err)
	}

	res := &SubmitResult{Order: order, Remaining: order.Amount, Discarded: decimal.Zero}

	for _, cand := range candidates {
		if !order.Remaining().IsPositive() {
			break
		}
		if !cand.Open() || !cand.Remaining().IsPositive() {
			continue
		}
		if cand.UserID == order.UserID {
			continue // SelfTradeSkip; Reject was handled above
		}

		fill := decimal.Min(order.Remaining(), cand.Remaining())
		buy, sell := order, cand
		if order.Side == models.SideSell {
			buy, sell = cand, order
		}

		trade, err := e.settler.Settle(ctx, buy, sell, fill, cand.Price, cand.Side)
		if err != nil {
			// Fatal for this submission: no further fills may run once a
			// settlement fails. Settled fills stand; the remainder is not
			// rested.
			res.Remaining = order.Remaining()
			return res, res.Trades, err
		}

		res.Trades = append(res.Trades, *trade)
		if !cand.Open() {
			e.book.remove(cand.ID)
		}
	}

	res.Remaining = order.Remaining()
	if res.Remaining.IsPositive() {
		switch order.Type {
		case models.TypeLimit:
			e.book.add(order)
		case models.TypeMarket:
			res.Discarded = res.Remaining
			res.Remaining = decimal.Zero
			if err := e.orders.CancelOrder(ctx, order.ID); err != nil {
				return res, res.Trades, fmt.Errorf("discard market remainder: %w", err)
			}
			order.Status = models.StatusCancelled
			e.log.WithFields(logrus.Fields{
				"orderId":   order.ID,
				"discarded": res.Discarded.String(),
			}).Info("market order remainder discarded")
		}
	}

	return res, res.Trades, nil
}

// Cancel cancels the unfilled remainder of an open order owned by userID.
func (e *Engine) Cancel(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.book.get(orderID)
	if order == nil {
		stored, err := e.orders.GetOrder(ctx, orderID)
		if err != nil || stored == nil {
			return nil, ErrNotFound
		}
		order = stored
	}
	if order.UserID != userID {
		// Do not reveal that the order exists.
		return nil, ErrNotFound
	}
	if !order.Cancellable() {
		return nil, ErrInvalidState
	}

	if err := e.orders.CancelOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	order.Status = models.StatusCancelled
	e.book.remove(orderID)

	e.log.WithFields(logrus.Fields{
		"orderId":   orderID,
		"userId":    userID,
		"remaining": order.Remaining().String(),
	}).Info("order cancelled")
	return order, nil
}

// Book returns a point-in-time snapshot of the resting book, best prices
// first, truncated to depth per side (0 means no truncation).
func (e *Engine) Book(depth int) (bids, asks []models.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.snapshot(depth)
}

func validate(req SubmitRequest) error {
	if !req.Side.Valid() {
		return invalidf("side must be %q or %q", models.SideBuy, models.SideSell)
	}
	if !req.Type.Valid() {
		return invalidf("type must be %q or %q", models.TypeLimit, models.TypeMarket)
	}
	if !req.Amount.IsPositive() {
		return invalidf("amount must be positive, got %s", req.Amount)
	}
	if req.Type == models.TypeLimit && !req.Price.IsPositive() {
		return invalidf("limit orders require a positive price, got %s", req.Price)
	}
	return nil
}

// referencePrice resolves the price used for the pre-trade balance check:
// the limit price, or for market orders the best opposing level, falling
// back to the last trade price. Never used as a fill price.
func (e *Engine) referencePrice(ctx context.Context, req SubmitRequest) (decimal.Decimal, error) {
	if req.Type == models.TypeLimit {
		return req.Price, nil
	}
	if best, ok := e.book.bestOpposing(req.Side); ok {
		return best, nil
	}
	last, ok, err := e.prices.LastTradePrice(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("resolve market price: %w", err)
	}
	if !ok {
		return decimal.Zero, invalidf("no market price available for market order")
	}
	return last, nil
}

func (e *Engine) checkBalance(ctx context.Context, req SubmitRequest, refPrice decimal.Decimal) error {
	wallet, err := e.wallets.Wallet(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("read wallet for user %d: %w", req.UserID, err)
	}
	if req.Side == models.SideBuy {
		if wallet.QuoteBalance.LessThan(req.Amount.Mul(refPrice)) {
			return ErrInsufficientBalance
		}
		return nil
	}
	if wallet.BaseBalance.LessThan(req.Amount) {
		return ErrInsufficientBalance
	}
	return nil
}
