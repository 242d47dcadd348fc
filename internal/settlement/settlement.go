// Package settlement turns a single fill into an atomic mutation of both
// traders' wallets, the exchange fee account, both order rows, and the trade
// log. All business arithmetic lives here; durability and atomicity live in
// the Store implementation.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/fees"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
)

// Settlement is the fully computed effect of one fill. The Store applies it
// as a single unit: either every leg lands or none do.
type Settlement struct {
	BuyOrderID  int64
	SellOrderID int64
	BuyerID     int64
	SellerID    int64

	Amount decimal.Decimal
	Price  decimal.Decimal
	Total  decimal.Decimal

	BuyerFee  decimal.Decimal
	SellerFee decimal.Decimal

	// BuyerQuoteDebit = Total + BuyerFee; SellerQuoteCredit = Total - SellerFee.
	BuyerQuoteDebit   decimal.Decimal
	SellerQuoteCredit decimal.Decimal
	FeeAccountID      int64
	FeeAccountCredit  decimal.Decimal

	BuyNewFilled  decimal.Decimal
	BuyNewStatus  models.OrderStatus
	SellNewFilled decimal.Decimal
	SellNewStatus models.OrderStatus

	ExecutedAt time.Time
}

// Store persists one settlement atomically. Implementations must guarantee
// that a failure in any leg leaves no partial state behind, and must refuse
// any leg that would drive a balance negative.
type Store interface {
	ApplySettlement(ctx context.Context, s *Settlement) (*models.Trade, error)
}

// Error identifies the failing step of a settlement. CorrelationID is safe
// to show to users; the wrapped error is for operators only.
type Error struct {
	Step          string
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	return fmt.Sprintf("settlement failed at %s (correlation %s): %v", e.Step, e.CorrelationID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Coordinator executes fills against a Store.
type Coordinator struct {
	store        Store
	fees         fees.Source
	feeAccountID int64
	log          *logrus.Entry
}

func NewCoordinator(store Store, feeSource fees.Source, feeAccountID int64, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{store: store, fees: feeSource, feeAccountID: feeAccountID, log: log}
}

// Settle executes one fill of fillAmount at fillPrice between buy and sell.
// makerSide names the side that was resting on the book; the opposite side
// is the taker and pays the taker rate. On success both order structs are
// updated in place to their new fill level and status.
func (c *Coordinator) Settle(ctx context.Context, buy, sell *models.Order, fillAmount, fillPrice decimal.Decimal, makerSide models.Side) (*models.Trade, error) {
	if !fillAmount.IsPositive() {
		return nil, c.fail("validate", fmt.Errorf("fill amount %s not positive", fillAmount))
	}
	if fillAmount.GreaterThan(buy.Remaining()) || fillAmount.GreaterThan(sell.Remaining()) {
		// A fill larger than either remainder means the book walk and the
		// order state disagree; that is a serialization bug, not an input
		// error. Fail loudly.
		return nil, c.fail("validate", fmt.Errorf(
			"fill %s exceeds remaining (buy %s, sell %s)",
			fillAmount, buy.Remaining(), sell.Remaining()))
	}

	schedule, err := c.fees.FeeSchedule(ctx)
	if err != nil {
		return nil, c.fail("fee-schedule", err)
	}

	buyerFee := fees.Compute(models.SideBuy, makerSide == models.SideBuy, fillAmount, fillPrice, schedule)
	sellerFee := fees.Compute(models.SideSell, makerSide == models.SideSell, fillAmount, fillPrice, schedule)

	total := fillAmount.Mul(fillPrice)
	s := &Settlement{
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,

		Amount: fillAmount,
		Price:  fillPrice,
		Total:  total,

		BuyerFee:  buyerFee,
		SellerFee: sellerFee,

		BuyerQuoteDebit:   total.Add(buyerFee),
		SellerQuoteCredit: total.Sub(sellerFee),
		FeeAccountID:      c.feeAccountID,
		FeeAccountCredit:  buyerFee.Add(sellerFee),

		BuyNewFilled:  buy.Filled.Add(fillAmount),
		SellNewFilled: sell.Filled.Add(fillAmount),

		ExecutedAt: time.Now(),
	}
	s.BuyNewStatus = models.StatusFor(s.BuyNewFilled, buy.Amount)
	s.SellNewStatus = models.StatusFor(s.SellNewFilled, sell.Amount)

	trade, err := c.store.ApplySettlement(ctx, s)
	if err != nil {
		return nil, c.fail("apply", err)
	}

	buy.Filled = s.BuyNewFilled
	buy.Status = s.BuyNewStatus
	sell.Filled = s.SellNewFilled
	sell.Status = s.SellNewStatus

	c.log.WithFields(logrus.Fields{
		"tradeId":     trade.ID,
		"buyOrderId":  buy.ID,
		"sellOrderId": sell.ID,
		"amount":      fillAmount.String(),
		"price":       fillPrice.String(),
	}).Info("settled fill")

	return trade, nil
}

func (c *Coordinator) fail(step string, err error) *Error {
	serr := &Error{Step: step, CorrelationID: uuid.NewString(), Err: err}
	c.log.WithFields(logrus.Fields{
		"step":        step,
		"correlation": serr.CorrelationID,
	}).WithError(err).Error("settlement failed")
	return serr
}
