package ladder

import (
	"github.com/mcdev12/bidwidget/go/internal/models"
	"github.com/shopspring/decimal"
)

// DefaultPercents are the increments offered when no policy overrides them.
var DefaultPercents = []int{10, 20, 30}

// DefaultBuyNowMarkup is the factor applied to the base price for buy-now.
var DefaultBuyNowMarkup = decimal.NewFromFloat(1.5)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Compute returns one option per percent, in the given order, with
// amount = ceil(base * (1 + percent/100)). An amount that would not exceed
// base is lifted to base + 1.
func Compute(base decimal.Decimal, percents []int) []models.LadderOption {
	options := make([]models.LadderOption, 0, len(percents))
	for _, p := range percents {
		factor := one.Add(decimal.NewFromInt(int64(p)).Div(hundred))
		amount := base.Mul(factor).Ceil()
		if !amount.GreaterThan(base) {
			amount = base.Floor().Add(one)
		}
		options = append(options, models.LadderOption{
			IncrementPercent: p,
			Amount:           amount,
		})
	}
	return options
}

// Base picks the ladder base: the observed highest bid if any, else reserve.
func Base(obs models.BidObservation, reserve decimal.Decimal) decimal.Decimal {
	if obs.Amount.Valid {
		return obs.Amount.Decimal
	}
	return reserve
}

// Contains reports whether amount is one of the offered options.
func Contains(options []models.LadderOption, amount decimal.Decimal) bool {
	for _, opt := range options {
		if opt.Amount.Equal(amount) {
			return true
		}
	}
	return false
}

// BuyNowPrice applies the markup to base.
func BuyNowPrice(base, markup decimal.Decimal) decimal.Decimal {
	return base.Mul(markup)
}
