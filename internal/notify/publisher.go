package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"order-tracker/internal/order"
	"order-tracker/internal/tracker"
)

// conn 为发布所需的 NATS 连接能力。
type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher 将订单累计结果广播到 NATS。
type Publisher struct {
	conn    conn
	closer  func()
	subject string
	logger  *zap.Logger
}

// Message 为广播的消息体。
type Message struct {
	ReportID string       `json:"report_id"`
	Side     string       `json:"side"`
	Result   order.Result `json:"result"`
	Summary  string       `json:"summary"`
}

// Connect 连接 NATS 并创建发布者。
func Connect(url, subject string, logger *zap.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("order-tracker"))
	if err != nil {
		return nil, fmt.Errorf("notify: 连接 NATS 失败: %w", err)
	}
	p := newPublisher(nc, subject, logger)
	p.closer = nc.Close
	return p, nil
}

func newPublisher(c conn, subject string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: c, subject: subject, logger: logger}
}

// Subject 返回交易对对应的主题，如 orders.results.BTC_USDT。
func (p *Publisher) Subject(symbol string) string {
	token := strings.NewReplacer("/", "_", ":", "_", ".", "_", " ", "").Replace(symbol)
	if token == "" {
		return p.subject
	}
	return p.subject + "." + token
}

// Publish 发布一条累计结果。
func (p *Publisher) Publish(reportID string, result order.Result) error {
	data, err := json.Marshal(Message{
		ReportID: reportID,
		Side:     result.Side(),
		Result:   result,
		Summary:  order.Describe(result),
	})
	if err != nil {
		return fmt.Errorf("notify: 序列化消息失败: %w", err)
	}
	if err := p.conn.Publish(p.Subject(result.Symbol), data); err != nil {
		return fmt.Errorf("notify: 发布消息失败: %w", err)
	}
	return nil
}

// OnMerged 广播最新累计结果。
func (p *Publisher) OnMerged(_ context.Context, report order.Report, result order.Result) {
	if err := p.Publish(report.ID, result); err != nil {
		p.logger.Warn("广播订单结果失败",
			zap.String("order_id", result.OrderID),
			zap.Error(err),
		)
	}
}

// OnRejected 被丢弃的回报不广播。
func (p *Publisher) OnRejected(context.Context, order.Report, error) {}

// Close 关闭连接。
func (p *Publisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}

var _ tracker.Listener = (*Publisher)(nil)
