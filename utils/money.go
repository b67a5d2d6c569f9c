package utils

import (
	"github.com/shopspring/decimal"
)

const monetaryPrecision int32 = 4 // 4 decimal places for price values (0.0001 precision)

// MoneyExceeds reports whether amount is strictly greater than price.
// Uses decimal arithmetic with monetaryPrecision so two bids that differ
// only by float noise compare equal rather than leapfrogging each other.
func MoneyExceeds(amount, price float64) bool {
	amountDecimal := decimal.NewFromFloat(amount).Round(monetaryPrecision)
	priceDecimal := decimal.NewFromFloat(price).Round(monetaryPrecision)

	return amountDecimal.GreaterThan(priceDecimal)
}

// MoneyEquals reports whether two price values are equal at monetaryPrecision.
// This is the comparison the compare-and-set path uses to decide whether the
// observed price is still current.
func MoneyEquals(a, b float64) bool {
	return decimal.NewFromFloat(a).Round(monetaryPrecision).
		Equal(decimal.NewFromFloat(b).Round(monetaryPrecision))
}
