package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the side an order of side s matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes limit and market orders.
type OrderType string

const (
	TypeLimit  OrderType = "limit"
	TypeMarket OrderType = "market"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool { return t == TypeLimit || t == TypeMarket }

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
)

// User represents a registered user.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Order represents a buy or sell order for the instrument.
type Order struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Side      Side            `json:"side"`
	Type      OrderType       `json:"type"`
	Price     decimal.Decimal `json:"price"`  // zero for market orders
	Amount    decimal.Decimal `json:"amount"` // in base tokens
	Filled    decimal.Decimal `json:"filled"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"` // time priority tie-break
}

// Remaining returns the unfilled amount.
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.Filled)
}

// Open reports whether the order can still participate in matching.
func (o *Order) Open() bool {
	return o.Status == StatusPending || o.Status == StatusPartiallyFilled
}

// Cancellable reports whether the order may transition to cancelled.
func (o *Order) Cancellable() bool { return o.Open() }

// StatusFor derives order status from the fill level. Status is a pure
// function of filled vs amount; cancellation is handled separately.
func StatusFor(filled, amount decimal.Decimal) OrderStatus {
	switch {
	case filled.GreaterThanOrEqual(amount):
		return StatusFilled
	case filled.IsPositive():
		return StatusPartiallyFilled
	default:
		return StatusPending
	}
}

// Trade represents an executed fill between two orders. Immutable once
// created.
type Trade struct {
	ID          int64           `json:"id"`
	BuyOrderID  int64           `json:"buy_order_id"`
	SellOrderID int64           `json:"sell_order_id"`
	BuyerID     int64           `json:"buyer_id"`
	SellerID    int64           `json:"seller_id"`
	Amount      decimal.Decimal `json:"amount"`
	Price       decimal.Decimal `json:"price"` // the resting order's price
	Total       decimal.Decimal `json:"total"` // amount * price
	BuyerFee    decimal.Decimal `json:"buyer_fee"`
	SellerFee   decimal.Decimal `json:"seller_fee"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Wallet holds one user's balances. Quote is the pricing currency, base the
// traded token. Neither balance may ever go negative.
type Wallet struct {
	UserID       int64           `json:"user_id"`
	QuoteBalance decimal.Decimal `json:"quote_balance"`
	BaseBalance  decimal.Decimal `json:"base_balance"`
}

// FeeSchedule holds the maker and taker rates as percentages.
type FeeSchedule struct {
	MakerRatePct decimal.Decimal `json:"maker_rate_pct"`
	TakerRatePct decimal.Decimal `json:"taker_rate_pct"`
}
