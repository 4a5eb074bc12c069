package exchange

import (
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"

	"order-tracker/internal/order"
)

func ptr[T any](v T) *T {
	return &v
}

func TestQuoteCurrency(t *testing.T) {
	cases := map[string]string{
		"ADA/ETH":       "ETH",
		"BTC/USDT:USDT": "USDT",
		"btc/usdc":      "USDC",
		"BTCUSDT":       "",
	}
	for symbol, want := range cases {
		if got := QuoteCurrency(symbol); got != want {
			t.Errorf("QuoteCurrency(%q) = %q, want %q", symbol, got, want)
		}
	}
}

func TestConvertTrade(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	trade := ccxt.Trade{
		Id:        ptr("t-1"),
		Order:     ptr("o-1"),
		Symbol:    ptr("BTC/USDT:USDT"),
		Side:      ptr("buy"),
		Amount:    ptr(0.5),
		Price:     ptr(60000.0),
		Timestamp: ptr(ts.UnixMilli()),
		Fee:       ccxt.Fee{Cost: ptr(0.3)},
		Info:      map[string]interface{}{"commissionAsset": "bnb"},
	}

	report, ok := ConvertTrade(trade)
	if !ok {
		t.Fatalf("expected trade to convert")
	}
	if report.ID != "t-1" {
		t.Errorf("unexpected report id %s", report.ID)
	}

	r := report.Result
	if r.OrderID != "o-1" || r.Symbol != "BTC/USDT:USDT" || !r.IsBuy {
		t.Errorf("unexpected identity: %+v", r)
	}
	if !r.Amount.Equal(decimal.RequireFromString("0.5")) || !r.AmountFilled.Equal(r.Amount) {
		t.Errorf("unexpected amounts: %s/%s", r.AmountFilled, r.Amount)
	}
	if !r.AveragePrice.Equal(decimal.NewFromInt(60000)) {
		t.Errorf("unexpected average price %s", r.AveragePrice)
	}
	if !r.Fees.Equal(decimal.RequireFromString("0.3")) || r.FeesCurrency != "BNB" {
		t.Errorf("unexpected fees %s %s", r.Fees, r.FeesCurrency)
	}
	if !r.OrderDate.Equal(ts) {
		t.Errorf("unexpected order date %s", r.OrderDate)
	}
	if r.Status != order.StatusPartiallyFilled {
		t.Errorf("unexpected status %s", r.Status)
	}
}

func TestConvertTrade_FallbacksAndSkips(t *testing.T) {
	if _, ok := ConvertTrade(ccxt.Trade{Symbol: ptr("BTC/USDT")}); ok {
		t.Fatalf("trade without order id should be skipped")
	}

	report, ok := ConvertTrade(ccxt.Trade{
		Order:     ptr("o-2"),
		Symbol:    ptr("ETH/USDC"),
		Side:      ptr("sell"),
		Amount:    ptr(2.0),
		Timestamp: ptr(int64(1700000000000)),
	})
	if !ok {
		t.Fatalf("expected trade to convert")
	}
	if report.ID != "o-2:1700000000000:2" {
		t.Errorf("unexpected synthesized id %s", report.ID)
	}
	if report.Result.IsBuy {
		t.Errorf("expected sell side")
	}
	if report.Result.FeesCurrency != "USDC" {
		t.Errorf("expected quote currency fallback, got %s", report.Result.FeesCurrency)
	}
}

func TestConvertOrder_StatusMapping(t *testing.T) {
	cases := []struct {
		status string
		filled float64
		want   order.Status
	}{
		{"open", 0, order.StatusPending},
		{"open", 1, order.StatusPartiallyFilled},
		{"closed", 3, order.StatusFilled},
		{"canceled", 0, order.StatusCanceled},
		{"expired", 0, order.StatusExpired},
		{"rejected", 0, order.StatusRejected},
		{"", 0, order.StatusUnknown},
		{"weird", 0, order.StatusError},
	}

	for _, tc := range cases {
		got := ConvertOrder(ccxt.Order{
			Id:     ptr("o"),
			Status: ptr(tc.status),
			Filled: ptr(tc.filled),
			Amount: ptr(3.0),
			Price:  ptr(10.0),
			Symbol: ptr("BTC/USDT"),
			Side:   ptr("buy"),
		})
		if got.Status != tc.want {
			t.Errorf("status %q filled %v: got %s want %s", tc.status, tc.filled, got.Status, tc.want)
		}
		if !got.Price.Equal(decimal.NewFromInt(10)) {
			t.Errorf("unexpected price %s", got.Price)
		}
	}
}
