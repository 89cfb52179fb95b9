package intake

import "github.com/shopspring/decimal"

var bpsDivisor = decimal.NewFromInt(10000)

// WithinTolerance reports whether the observed amount is acceptably close to
// the expected amount. The band is symmetric: |actual - expected| must not
// exceed expected * bps / 10000. At 50 bps on an expected 100, 100.4 passes
// and 100.6 does not; the boundary itself passes.
func WithinTolerance(expected, actual decimal.Decimal, bps int64) bool {
	if bps < 0 {
		return false
	}

	diff := actual.Sub(expected).Abs()
	limit := expected.Mul(decimal.NewFromInt(bps)).Div(bpsDivisor)
	return diff.LessThanOrEqual(limit)
}
