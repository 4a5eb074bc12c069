package order

// Merge 将 incoming 回报合并到 base 上并返回新的累计结果，不修改入参。
//
// 数量、成交量与手续费累加；均价按两份回报的委托数量加权；标识字段取 incoming；
// 下单时间保留 base 已知的值。base 的 order id 与 symbol 均非空时，
// 三个标识字段任一不一致即返回 *MismatchedOrderError。
func Merge(base, incoming Result) (Result, error) {
	if base.OrderID != "" && base.Symbol != "" &&
		(base.OrderID != incoming.OrderID || base.IsBuy != incoming.IsBuy || base.Symbol != incoming.Symbol) {
		return Result{}, &MismatchedOrderError{
			BaseID:         base.OrderID,
			IncomingID:     incoming.OrderID,
			BaseSymbol:     base.Symbol,
			IncomingSymbol: incoming.Symbol,
			BaseIsBuy:      base.IsBuy,
			IncomingIsBuy:  incoming.IsBuy,
		}
	}

	if base.FeesCurrency != "" && incoming.FeesCurrency != "" && base.FeesCurrency != incoming.FeesCurrency {
		return Result{}, &CurrencyMismatchError{
			OrderID:  incoming.OrderID,
			Base:     base.FeesCurrency,
			Incoming: incoming.FeesCurrency,
		}
	}

	merged := base

	tradeSum := base.Amount.Add(incoming.Amount)
	if !tradeSum.IsZero() {
		// 先求加权和再做一次除法，避免两次舍入。
		merged.AveragePrice = base.AveragePrice.Mul(base.Amount).
			Add(incoming.AveragePrice.Mul(incoming.Amount)).
			Div(tradeSum)
	}

	merged.Amount = tradeSum
	merged.AmountFilled = base.AmountFilled.Add(incoming.AmountFilled)
	merged.Fees = base.Fees.Add(incoming.Fees)
	merged.FeesCurrency = incoming.FeesCurrency

	merged.OrderID = incoming.OrderID
	merged.Symbol = incoming.Symbol
	merged.IsBuy = incoming.IsBuy
	if merged.OrderDate.IsZero() {
		merged.OrderDate = incoming.OrderDate
	}

	if incoming.Status != StatusUnknown {
		merged.Status = incoming.Status
	}
	if incoming.Message != "" {
		merged.Message = incoming.Message
	}
	if merged.Price.IsZero() {
		merged.Price = incoming.Price
	}

	return merged, nil
}
