package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status 为交易所返回的订单结果状态，原样保留最近一次回报的值。
type Status string

const (
	StatusUnknown         Status = ""
	StatusPending         Status = "pending"
	StatusFilled          Status = "filled"
	StatusPartiallyFilled Status = "partially_filled"
	StatusCanceled        Status = "canceled"
	StatusRejected        Status = "rejected"
	StatusError           Status = "error"
	StatusExpired         Status = "expired"
	StatusPendingCancel   Status = "pending_cancel"
)

var statusLabels = map[Status]string{
	StatusUnknown:         "Unknown",
	StatusPending:         "Pending",
	StatusFilled:          "Filled",
	StatusPartiallyFilled: "PartiallyFilled",
	StatusCanceled:        "Canceled",
	StatusRejected:        "Rejected",
	StatusError:           "Error",
	StatusExpired:         "Expired",
	StatusPendingCancel:   "PendingCancel",
}

// String 返回状态的展示名称，未知标签原样输出。
func (s Status) String() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// Final 判断订单是否已进入终态。
func (s Status) Final() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired, StatusError:
		return true
	default:
		return false
	}
}

// Result 描述一笔订单在交易所侧的执行结果。
//
// 数量以基础币计价，价格为 基础币/计价币 比值，例如 ADA/ETH 中数量为 ADA。
// OrderDate 为零值时表示下单时间未知。
type Result struct {
	OrderID      string          `json:"order_id"`
	Status       Status          `json:"status"`
	Message      string          `json:"message,omitempty"`
	Symbol       string          `json:"symbol"`
	IsBuy        bool            `json:"is_buy"`
	Amount       decimal.Decimal `json:"amount"`
	AmountFilled decimal.Decimal `json:"amount_filled"`
	Price        decimal.Decimal `json:"price"`
	AveragePrice decimal.Decimal `json:"average_price"`
	OrderDate    time.Time       `json:"order_date"`
	Fees         decimal.Decimal `json:"fees"`
	FeesCurrency string          `json:"fees_currency,omitempty"`
}

// IsZero 判断是否为尚未识别的初始状态。
func (r Result) IsZero() bool {
	return r.OrderID == "" && r.Symbol == ""
}

// Side 返回 buy 或 sell。
func (r Result) Side() string {
	if r.IsBuy {
		return "buy"
	}
	return "sell"
}

// Remaining 返回尚未成交的数量。
func (r Result) Remaining() decimal.Decimal {
	return r.Amount.Sub(r.AmountFilled)
}

// Report 为一次增量回报，ID 由交易所分配（如成交编号），用于去重。
type Report struct {
	ID         string
	Result     Result
	ReceivedAt time.Time
}
