package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places a stored money amount carries.
const MoneyScale = 2

// FitsMoneyScale reports whether d can be stored at MoneyScale without rounding.
// Trailing zeros are fine: 10.500 fits, 10.505 does not.
func FitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// CheckMoney returns InvalidInput when amount has sub-cent precision.
func CheckMoney(op, field string, amount decimal.Decimal) error {
	if !FitsMoneyScale(amount) {
		return InvalidInput(op, field+" has more than 2 decimal places")
	}
	return nil
}
