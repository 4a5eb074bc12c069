package exchange

import (
	"fmt"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"

	"order-tracker/internal/order"
)

// 交易所原始回报中可能携带手续费币种的字段。
var feeCurrencyKeys = []string{"commissionAsset", "feeCurrency", "fee_currency", "feeAsset"}

// QuoteCurrency 返回交易对的计价币，例如 BTC/USDT:USDT 返回 USDT。
func QuoteCurrency(symbol string) string {
	idx := strings.Index(symbol, "/")
	if idx < 0 {
		return ""
	}
	quote := symbol[idx+1:]
	if i := strings.Index(quote, ":"); i >= 0 {
		quote = quote[:i]
	}
	return strings.ToUpper(strings.TrimSpace(quote))
}

// ConvertTrade 将单笔成交转换为增量回报：委托量与成交量均为本次成交量，
// 均价为成交价。缺少订单号的成交无法归属，返回 false。
func ConvertTrade(t ccxt.Trade) (order.Report, bool) {
	orderID := str(t.Order)
	if orderID == "" {
		return order.Report{}, false
	}

	symbol := str(t.Symbol)
	amount := dec(t.Amount)
	ts := millis(t.Timestamp)

	result := order.Result{
		OrderID:      orderID,
		Status:       order.StatusPartiallyFilled,
		Symbol:       symbol,
		IsBuy:        strings.EqualFold(str(t.Side), "buy"),
		Amount:       amount,
		AmountFilled: amount,
		AveragePrice: dec(t.Price),
		OrderDate:    ts,
		Fees:         dec(t.Fee.Cost),
		FeesCurrency: feeCurrency(t.Info, symbol),
	}

	id := str(t.Id)
	if id == "" {
		id = fmt.Sprintf("%s:%d:%s", orderID, ts.UnixMilli(), amount.String())
	}

	return order.Report{
		ID:         id,
		Result:     result,
		ReceivedAt: time.Now().UTC(),
	}, true
}

// ConvertOrder 将交易所订单快照转换为完整的订单结果。
func ConvertOrder(o ccxt.Order) order.Result {
	symbol := str(o.Symbol)
	filled := dec(o.Filled)
	return order.Result{
		OrderID:      str(o.Id),
		Status:       mapStatus(str(o.Status), filled),
		Symbol:       symbol,
		IsBuy:        strings.EqualFold(str(o.Side), "buy"),
		Amount:       dec(o.Amount),
		AmountFilled: filled,
		Price:        dec(o.Price),
		AveragePrice: dec(o.Average),
		OrderDate:    millis(o.Timestamp),
		Fees:         dec(o.Fee.Cost),
		FeesCurrency: feeCurrency(o.Info, symbol),
	}
}

func mapStatus(status string, filled decimal.Decimal) order.Status {
	switch strings.ToLower(status) {
	case "open", "new":
		if filled.IsPositive() {
			return order.StatusPartiallyFilled
		}
		return order.StatusPending
	case "closed", "filled":
		return order.StatusFilled
	case "canceled", "cancelled":
		return order.StatusCanceled
	case "expired":
		return order.StatusExpired
	case "rejected":
		return order.StatusRejected
	case "":
		return order.StatusUnknown
	default:
		return order.StatusError
	}
}

func feeCurrency(info map[string]interface{}, symbol string) string {
	for _, key := range feeCurrencyKeys {
		if v, ok := info[key].(string); ok && v != "" {
			return strings.ToUpper(v)
		}
	}
	return QuoteCurrency(symbol)
}

func str(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func dec(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}

func millis(v *int64) time.Time {
	if v == nil || *v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(*v).UTC()
}
