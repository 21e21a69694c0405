package util

import (
	"github.com/shopspring/decimal"
)

// FormatPrice renders an integer amount in minor units with scale decimal
// places, e.g. FormatPrice(12345, 2) == "123.45".
func FormatPrice(minor int64, scale int32) string {
	if scale <= 0 {
		return decimal.NewFromInt(minor).String()
	}
	return decimal.New(minor, -scale).StringFixed(scale)
}
