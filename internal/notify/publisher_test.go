package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-tracker/internal/order"
)

type captured struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []captured
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, captured{subject: subject, data: data})
	return nil
}

func TestPublisher_Subject(t *testing.T) {
	p := newPublisher(&fakeConn{}, "orders.results", nil)
	assert.Equal(t, "orders.results.BTC_USDT_USDT", p.Subject("BTC/USDT:USDT"))
	assert.Equal(t, "orders.results", p.Subject(""))
}

func TestPublisher_OnMergedPublishesJSON(t *testing.T) {
	c := &fakeConn{}
	p := newPublisher(c, "orders.results", nil)

	result := order.Result{
		OrderID:      "o-1",
		Symbol:       "ADA/ETH",
		IsBuy:        true,
		Amount:       decimal.NewFromInt(10),
		AmountFilled: decimal.NewFromInt(5),
		Fees:         decimal.RequireFromString("0.01"),
		FeesCurrency: "ETH",
	}
	p.OnMerged(context.Background(), order.Report{ID: "r-1"}, result)

	require.Len(t, c.msgs, 1)
	assert.Equal(t, "orders.results.ADA_ETH", c.msgs[0].subject)

	var msg Message
	require.NoError(t, json.Unmarshal(c.msgs[0].data, &msg))
	assert.Equal(t, "r-1", msg.ReportID)
	assert.Equal(t, "o-1", msg.Result.OrderID)
	assert.True(t, msg.Result.AmountFilled.Equal(decimal.NewFromInt(5)))
	assert.Contains(t, msg.Summary, "Buy 5 of 10 ADA/ETH")
	assert.Contains(t, msg.Summary, "0.01 ETH")
	assert.Equal(t, "buy", msg.Side)
}

func TestPublisher_PublishError(t *testing.T) {
	p := newPublisher(&fakeConn{err: errors.New("no responders")}, "orders", nil)
	err := p.Publish("r", order.Result{Symbol: "BTC/USDT"})
	require.Error(t, err)

	// OnMerged 只记录日志，不向上抛出。
	p.OnMerged(context.Background(), order.Report{}, order.Result{Symbol: "BTC/USDT"})
}
