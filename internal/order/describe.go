package order

import "fmt"

const dateLayout = "2006-01-02 15:04:05"

// Describe 生成单行可读摘要。
func Describe(r Result) string {
	side := "Sell"
	if r.IsBuy {
		side = "Buy"
	}
	return fmt.Sprintf("[%s], %s %s of %s %s %s at %s, fees paid %s %s",
		r.OrderDate.UTC().Format(dateLayout),
		side,
		r.AmountFilled.String(),
		r.Amount.String(),
		r.Symbol,
		r.Status.String(),
		r.AveragePrice.String(),
		r.Fees.String(),
		r.FeesCurrency,
	)
}

func (r Result) String() string {
	return Describe(r)
}
