package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"order-tracker/internal/config"
	"order-tracker/internal/exchange"
	"order-tracker/internal/monitor"
	"order-tracker/internal/notify"
	"order-tracker/internal/order"
	"order-tracker/internal/store"
	"order-tracker/internal/tracker"
)

var _ tracker.OrderSource = (*exchange.Client)(nil)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store

	// 测试时替换交易所数据源。
	source tracker.Source
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

type runtime struct {
	tracker *tracker.Tracker
	poller  *tracker.Poller
	monitor *monitor.Service
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) setup(ctx context.Context) (*runtime, error) {
	source := a.source
	if source == nil {
		client, err := exchange.NewClient(a.cfg.Exchange, a.logger.Named("exchange"))
		if err != nil {
			return nil, err
		}
		source = client
	}

	repo, err := tracker.NewSQLRepository(ctx, a.store)
	if err != nil {
		return nil, err
	}

	monitorSvc, err := monitor.NewService(ctx, a.store, a.logger.Named("monitor"))
	if err != nil {
		return nil, err
	}

	rt := &runtime{monitor: monitorSvc}
	listeners := []tracker.Listener{monitorSvc}
	if a.cfg.NATS.Enabled {
		publisher, err := notify.Connect(a.cfg.NATS.URL, a.cfg.NATS.Subject, a.logger.Named("notify"))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, publisher.Close)
		listeners = append(listeners, publisher)
	}

	rt.tracker = tracker.New(repo, a.logger.Named("tracker"), listeners...)
	if err := rt.tracker.Restore(ctx); err != nil {
		rt.close()
		return nil, err
	}

	rt.poller = tracker.NewPoller(source, rt.tracker, a.cfg.Exchange.Markets, a.cfg.Poll, a.logger.Named("poller"))
	return rt, nil
}

// Run 恢复订单状态后按固定间隔拉取成交回报，直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("订单跟踪服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Strings("markets", a.cfg.Exchange.Markets),
	)

	rt, err := a.setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if a.cfg.Monitor.Enabled {
		startServer(ctx, newHandler(rt.tracker, rt.monitor, a.logger), a.cfg.Monitor.Port, a.logger)
	}

	interval := a.cfg.Poll.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	a.poll(ctx, rt)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			a.poll(ctx, rt)
		}
	}
}

// RunOnce 执行一轮拉取并返回全部订单的累计结果。
func (a *App) RunOnce(ctx context.Context) ([]order.Result, error) {
	rt, err := a.setup(ctx)
	if err != nil {
		return nil, err
	}
	defer rt.close()

	if _, err := rt.poller.Poll(ctx); err != nil {
		return nil, err
	}
	return rt.tracker.Snapshot(), nil
}

func (a *App) poll(ctx context.Context, rt *runtime) {
	stats, err := rt.poller.Poll(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if errors.Is(err, exchange.ErrMaintenance) {
			a.logger.Warn("交易所维护中，跳过本轮拉取", zap.Error(err))
			return
		}
		retryable := exchange.IsRetryable(err)
		a.logger.Error("拉取成交回报失败", zap.Bool("retryable", retryable), zap.Error(err))
		rt.monitor.RecordError(ctx, "poll failed", err, map[string]interface{}{
			"fetched":   stats.Fetched,
			"applied":   stats.Applied,
			"retryable": retryable,
		})
		return
	}

	if stats.Applied > 0 || stats.Rejected > 0 || stats.Reconciled > 0 {
		a.logger.Info("成交回报已合并",
			zap.Int("fetched", stats.Fetched),
			zap.Int("applied", stats.Applied),
			zap.Int("duplicates", stats.Duplicates),
			zap.Int("rejected", stats.Rejected),
			zap.Int("reconciled", stats.Reconciled),
		)
	}
}
