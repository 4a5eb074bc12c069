package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"order-tracker/internal/config"
)

type fakeVenue struct {
	trades     []ccxt.Trade
	order      ccxt.Order
	failures   []error
	tradeCalls int
	orderCalls int
}

func (f *fakeVenue) nextFailure() error {
	if len(f.failures) == 0 {
		return nil
	}
	err := f.failures[0]
	f.failures = f.failures[1:]
	return err
}

func (f *fakeVenue) FetchMyTrades(options ...ccxt.FetchMyTradesOptions) ([]ccxt.Trade, error) {
	f.tradeCalls++
	if err := f.nextFailure(); err != nil {
		return nil, err
	}
	return f.trades, nil
}

func (f *fakeVenue) FetchOrder(id string, options ...ccxt.FetchOrderOptions) (ccxt.Order, error) {
	f.orderCalls++
	if err := f.nextFailure(); err != nil {
		return ccxt.Order{}, err
	}
	return f.order, nil
}

func testConfig() config.ExchangeConfig {
	return config.ExchangeConfig{
		Name:    "binanceusdm",
		Markets: []string{"BTC/USDT"},
		Retry: config.RetryConfig{
			MaxAttempts: 3,
			MinDelay:    time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
	}
}

func TestFetchReports_RetriesAndSortsByTime(t *testing.T) {
	venue := &fakeVenue{
		failures: []error{&ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "reset"}},
		trades: []ccxt.Trade{
			{Id: ptr("2"), Order: ptr("o"), Symbol: ptr("BTC/USDT"), Side: ptr("buy"), Amount: ptr(1.0), Price: ptr(2.0), Timestamp: ptr(int64(2000))},
			{Id: ptr("x"), Symbol: ptr("BTC/USDT")},
			{Id: ptr("1"), Order: ptr("o"), Symbol: ptr("BTC/USDT"), Side: ptr("buy"), Amount: ptr(1.0), Price: ptr(1.0), Timestamp: ptr(int64(1000))},
		},
	}
	loads := 0
	client := newClient(testConfig(), venue, func() error { loads++; return nil }, nil)

	reports, err := client.FetchReports(context.Background(), "BTC/USDT", time.UnixMilli(500), 10)
	if err != nil {
		t.Fatalf("FetchReports returned error: %v", err)
	}
	if venue.tradeCalls != 2 {
		t.Errorf("expected one retry, got %d calls", venue.tradeCalls)
	}
	if loads != 1 {
		t.Errorf("markets should load once, got %d", loads)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].ID != "1" || reports[1].ID != "2" {
		t.Errorf("reports not sorted by time: %s, %s", reports[0].ID, reports[1].ID)
	}
}

func TestFetchReports_NonRetryableFailsFast(t *testing.T) {
	venue := &fakeVenue{
		failures: []error{&ccxt.Error{Type: ccxt.AuthenticationErrorErrType, Message: "bad key"}},
	}
	client := newClient(testConfig(), venue, nil, nil)

	if _, err := client.FetchReports(context.Background(), "BTC/USDT", time.Time{}, 0); err == nil {
		t.Fatalf("expected error")
	}
	if venue.tradeCalls != 1 {
		t.Errorf("non-retryable error should not retry, got %d calls", venue.tradeCalls)
	}
}

func TestFetchReports_Maintenance(t *testing.T) {
	venue := &fakeVenue{
		failures: []error{&ccxt.Error{Type: ccxt.OnMaintenanceErrType}},
	}
	client := newClient(testConfig(), venue, nil, nil)

	_, err := client.FetchReports(context.Background(), "BTC/USDT", time.Time{}, 0)
	if !errors.Is(err, ErrMaintenance) {
		t.Fatalf("expected maintenance error, got %v", err)
	}
}

func TestFetchOrder_Converts(t *testing.T) {
	venue := &fakeVenue{
		order: ccxt.Order{Id: ptr("o-9"), Status: ptr("closed"), Symbol: ptr("ETH/USDT"), Side: ptr("sell"), Amount: ptr(1.0), Filled: ptr(1.0)},
	}
	client := newClient(testConfig(), venue, nil, nil)

	result, err := client.FetchOrder(context.Background(), "o-9", "ETH/USDT")
	if err != nil {
		t.Fatalf("FetchOrder returned error: %v", err)
	}
	if result.OrderID != "o-9" || result.IsBuy {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Errorf("nil should not be retryable")
	}
	if IsRetryable(context.Canceled) {
		t.Errorf("context cancel should not be retryable")
	}
	if !IsRetryable(&ccxt.Error{Type: ccxt.RateLimitExceededErrType}) {
		t.Errorf("rate limit should be retryable")
	}
}

func TestNewClient_RejectsUnknownExchange(t *testing.T) {
	cfg := testConfig()
	cfg.Name = "kraken"
	if _, err := NewClient(cfg, nil); err == nil {
		t.Fatalf("expected unsupported exchange error")
	}
}
