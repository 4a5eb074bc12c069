package order

import (
	"errors"
	"fmt"
)

var (
	// ErrMismatchedOrder 表示两份回报不属于同一笔订单。
	ErrMismatchedOrder = errors.New("order: mismatched order identity")
	// ErrCurrencyMismatch 表示两份回报的手续费币种不一致。
	ErrCurrencyMismatch = errors.New("order: mismatched fees currency")
)

// MismatchedOrderError 记录冲突的订单标识。
type MismatchedOrderError struct {
	BaseID, IncomingID         string
	BaseSymbol, IncomingSymbol string
	BaseIsBuy, IncomingIsBuy   bool
}

func (e *MismatchedOrderError) Error() string {
	return fmt.Sprintf("order: 合并订单要求 order id、symbol 与方向一致: base=%s/%s/%t incoming=%s/%s/%t",
		e.BaseID, e.BaseSymbol, e.BaseIsBuy,
		e.IncomingID, e.IncomingSymbol, e.IncomingIsBuy,
	)
}

func (e *MismatchedOrderError) Is(target error) bool {
	return target == ErrMismatchedOrder
}

// CurrencyMismatchError 记录冲突的手续费币种。
type CurrencyMismatchError struct {
	OrderID  string
	Base     string
	Incoming string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("order: 订单 %s 手续费币种不一致: %s != %s", e.OrderID, e.Base, e.Incoming)
}

func (e *CurrencyMismatchError) Is(target error) bool {
	return target == ErrCurrencyMismatch
}
