package fees

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Compute returns the fee charged to one side of a fill. The maker pays the
// maker rate, the taker pays the taker rate, each on the fill's notional
// (amount * price) in the quote currency. Pure: no state, no I/O.
func Compute(side models.Side, isMaker bool, amount, price decimal.Decimal, schedule models.FeeSchedule) decimal.Decimal {
	rate := schedule.TakerRatePct
	if isMaker {
		rate = schedule.MakerRatePct
	}
	return amount.Mul(price).Mul(rate).Div(hundred)
}

// Source yields the fee schedule in force. Fetched once per trade
// computation, never cached across trades by callers.
type Source interface {
	FeeSchedule(ctx context.Context) (models.FeeSchedule, error)
}

// Static is a Source with fixed rates, used when the schedule comes from
// configuration rather than storage.
type Static struct {
	Schedule models.FeeSchedule
}

func (s Static) FeeSchedule(ctx context.Context) (models.FeeSchedule, error) {
	return s.Schedule, nil
}
