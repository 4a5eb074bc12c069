package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-tracker/internal/config"
	"order-tracker/internal/order"
)

// Source 提供某个交易对在 since 之后的增量回报，按时间升序。
type Source interface {
	FetchReports(ctx context.Context, symbol string, since time.Time, limit int) ([]order.Report, error)
}

// OrderSource 查询订单在交易所侧的最新状态。成交回报无法反映撤单、过期等终态，
// 需要据此修正。
type OrderSource interface {
	FetchOrder(ctx context.Context, id, symbol string) (order.Result, error)
}

// Poller 按交易对并发拉取回报并交给 Tracker 合并，每个交易对保留各自的游标。
// source 同时实现 OrderSource 时，每轮拉取后会同步未终结订单的状态。
type Poller struct {
	source  Source
	orders  OrderSource
	tracker *Tracker
	markets []string
	cfg     config.PollConfig
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	cursors map[string]time.Time
}

// PollStats 汇总一轮拉取的结果。
type PollStats struct {
	Fetched    int
	Applied    int
	Duplicates int
	Rejected   int
	Reconciled int
}

// NewPoller 创建拉取器。
func NewPoller(source Source, tracker *Tracker, markets []string, cfg config.PollConfig, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		source:  source,
		tracker: tracker,
		markets: markets,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		cursors: make(map[string]time.Time, len(markets)),
	}
	if orders, ok := source.(OrderSource); ok {
		p.orders = orders
	}
	return p
}

// Poll 执行一轮拉取。单个交易对内的回报顺序合并；不匹配或重复的回报被跳过，
// 拉取或持久化失败会中止本轮。
func (p *Poller) Poll(ctx context.Context) (PollStats, error) {
	var (
		statsMu sync.Mutex
		total   PollStats
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, market := range p.markets {
		market := market
		group.Go(func() error {
			stats, err := p.pollMarket(groupCtx, market)
			statsMu.Lock()
			total.Fetched += stats.Fetched
			total.Applied += stats.Applied
			total.Duplicates += stats.Duplicates
			total.Rejected += stats.Rejected
			total.Reconciled += stats.Reconciled
			statsMu.Unlock()
			return err
		})
	}

	err := group.Wait()
	p.logger.Debug("回报拉取完成",
		zap.Int("fetched", total.Fetched),
		zap.Int("applied", total.Applied),
		zap.Int("duplicates", total.Duplicates),
		zap.Int("rejected", total.Rejected),
		zap.Int("reconciled", total.Reconciled),
		zap.Error(err),
	)
	return total, err
}

func (p *Poller) pollMarket(ctx context.Context, market string) (PollStats, error) {
	var stats PollStats

	since := p.cursor(market)
	reports, err := p.source.FetchReports(ctx, market, since, p.cfg.TradeLimit)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(reports)

	latest := since
	for _, report := range reports {
		_, err := p.tracker.Apply(ctx, report)
		switch {
		case err == nil:
			stats.Applied++
		case errors.Is(err, ErrDuplicateReport):
			stats.Duplicates++
		case errors.Is(err, order.ErrMismatchedOrder),
			errors.Is(err, order.ErrCurrencyMismatch),
			errors.Is(err, ErrMissingOrderID):
			stats.Rejected++
		default:
			p.setCursor(market, latest)
			return stats, err
		}

		if ts := report.Result.OrderDate; ts.After(latest) {
			latest = ts
		}
	}

	p.setCursor(market, latest)
	if limit := p.cfg.TradeLimit; limit > 0 && len(reports) >= limit && !latest.After(since) {
		p.logger.Warn("整页成交处于同一时刻，游标无法前进，请调大 trade_limit",
			zap.String("market", market),
			zap.Time("since", since),
			zap.Int("limit", limit),
		)
	}

	stats.Reconciled, err = p.reconcile(ctx, market)
	return stats, err
}

// reconcile 查询未终结订单的最新状态，状态变化时以零数量回报合并，只更新状态与说明。
func (p *Poller) reconcile(ctx context.Context, market string) (int, error) {
	if p.orders == nil {
		return 0, nil
	}

	updated := 0
	for _, tracked := range p.tracker.Open(market) {
		snapshot, err := p.orders.FetchOrder(ctx, tracked.OrderID, market)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return updated, ctxErr
			}
			p.logger.Warn("查询订单状态失败",
				zap.String("order_id", tracked.OrderID),
				zap.String("market", market),
				zap.Error(err),
			)
			continue
		}
		if snapshot.Status == order.StatusUnknown || snapshot.Status == tracked.Status {
			continue
		}

		if _, err := p.tracker.Apply(ctx, statusReport(tracked, snapshot, p.now())); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// statusReport 沿用已累计的标识与手续费币种，数量为零，合并后均价不变。
func statusReport(tracked, snapshot order.Result, at time.Time) order.Report {
	return order.Report{
		Result: order.Result{
			OrderID:      tracked.OrderID,
			Status:       snapshot.Status,
			Message:      snapshot.Message,
			Symbol:       tracked.Symbol,
			IsBuy:        tracked.IsBuy,
			Price:        snapshot.Price,
			FeesCurrency: tracked.FeesCurrency,
		},
		ReceivedAt: at.UTC(),
	}
}

// 同一毫秒内的成交可能分批返回，游标停在最后一笔成交时间，重复部分依靠去重过滤。
func (p *Poller) cursor(market string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ts, ok := p.cursors[market]; ok {
		return ts
	}
	if p.cfg.Lookback <= 0 {
		return time.Time{}
	}
	return p.now().UTC().Add(-p.cfg.Lookback)
}

func (p *Poller) setCursor(market string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	p.mu.Lock()
	p.cursors[market] = ts
	p.mu.Unlock()
}
