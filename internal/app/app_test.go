package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-tracker/internal/config"
	"order-tracker/internal/monitor"
	"order-tracker/internal/order"
	"order-tracker/internal/store"
	"order-tracker/internal/tracker"
)

type scriptedSource struct {
	mu      sync.Mutex
	calls   int
	reports []order.Report
	second  chan struct{}
}

func (s *scriptedSource) FetchReports(context.Context, string, time.Time, int) ([]order.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == 2 {
		close(s.second)
	}
	return s.reports, nil
}

func report(id string, amount int64, price string) order.Report {
	return order.Report{ID: id, Result: order.Result{
		OrderID:      "o-1",
		Status:       order.StatusPartiallyFilled,
		Symbol:       "BTC/USDT",
		IsBuy:        true,
		Amount:       decimal.NewFromInt(amount),
		AmountFilled: decimal.NewFromInt(amount),
		AveragePrice: decimal.RequireFromString(price),
		FeesCurrency: "USDT",
	}}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestApp_RunPollsAndPersists(t *testing.T) {
	st := newTestStore(t)
	cfg := &config.Config{
		App:      config.AppConfig{Environment: "test"},
		Exchange: config.ExchangeConfig{Name: "binanceusdm", Markets: []string{"BTC/USDT"}},
		Poll:     config.PollConfig{Interval: 10 * time.Millisecond, TradeLimit: 10},
	}

	source := &scriptedSource{
		reports: []order.Report{report("1", 1, "100"), report("2", 1, "200")},
		second:  make(chan struct{}),
	}
	a := New(cfg, zap.NewNop(), st)
	a.source = source

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-source.second:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not run twice")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	repo, err := tracker.NewSQLRepository(context.Background(), st)
	require.NoError(t, err)
	stored, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "150", stored[0].Result.AveragePrice.String())
	ids := make([]string, 0, len(stored[0].Reports))
	for _, applied := range stored[0].Reports {
		ids = append(ids, applied.ID)
	}
	assert.ElementsMatch(t, []string{"1", "2"}, ids)
}

func TestHandler_Orders(t *testing.T) {
	st := newTestStore(t)
	svc, err := monitor.NewService(context.Background(), st, nil)
	require.NoError(t, err)

	tr := tracker.New(nil, nil, svc)
	_, err = tr.Apply(context.Background(), report("1", 10, "0.5"))
	require.NoError(t, err)

	srv := httptest.NewServer(newHandler(tr, svc, zap.NewNop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/o-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view struct {
		OrderID   string `json:"order_id"`
		Remaining string `json:"remaining"`
		Summary   string `json:"summary"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "o-1", view.OrderID)
	assert.Equal(t, "0", view.Remaining)
	assert.Contains(t, view.Summary, "Buy 10 of 10 BTC/USDT")

	missing, err := http.Get(srv.URL + "/orders/unknown")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	list, err := http.Get(srv.URL + "/orders?symbol=ETH/USDT")
	require.NoError(t, err)
	defer list.Body.Close()
	var views []json.RawMessage
	require.NoError(t, json.NewDecoder(list.Body).Decode(&views))
	assert.Empty(t, views)

	events, err := http.Get(srv.URL + "/events?type=merged&limit=5")
	require.NoError(t, err)
	defer events.Body.Close()
	var got []monitor.Event
	require.NoError(t, json.NewDecoder(events.Body).Decode(&got))
	assert.Len(t, got, 1)
}

func TestApp_RunOnceReturnsSnapshot(t *testing.T) {
	st := newTestStore(t)
	cfg := &config.Config{
		Exchange: config.ExchangeConfig{Markets: []string{"BTC/USDT"}},
		Poll:     config.PollConfig{TradeLimit: 10},
	}
	a := New(cfg, zap.NewNop(), st)
	a.source = &scriptedSource{
		reports: []order.Report{report("1", 2, "10"), report("2", 2, "20")},
		second:  make(chan struct{}),
	}

	results, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "15", results[0].AveragePrice.String())
	assert.True(t, results[0].Amount.Equal(decimal.NewFromInt(4)))
}

type settledSource struct {
	scriptedSource
}

func (s *settledSource) FetchOrder(_ context.Context, id, symbol string) (order.Result, error) {
	return order.Result{OrderID: id, Symbol: symbol, IsBuy: true, Status: order.StatusFilled}, nil
}

func TestApp_RunOnceReconcilesOrderStatus(t *testing.T) {
	st := newTestStore(t)
	cfg := &config.Config{
		Exchange: config.ExchangeConfig{Markets: []string{"BTC/USDT"}},
		Poll:     config.PollConfig{TradeLimit: 10},
	}
	a := New(cfg, zap.NewNop(), st)
	a.source = &settledSource{scriptedSource{
		reports: []order.Report{report("1", 2, "10"), report("2", 2, "20")},
		second:  make(chan struct{}),
	}}

	results, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, order.StatusFilled, results[0].Status)
	assert.Equal(t, "15", results[0].AveragePrice.String())
	assert.Equal(t, "USDT", results[0].FeesCurrency)
}
