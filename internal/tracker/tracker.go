package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"order-tracker/internal/order"
)

var (
	// ErrDuplicateReport 表示该回报已合并过，按至多一次语义丢弃。
	ErrDuplicateReport = errors.New("tracker: duplicate report")
	// ErrMissingOrderID 表示回报缺少订单号，无法归属到累计状态。
	ErrMissingOrderID = errors.New("tracker: report without order id")
)

// Listener 接收合并结果通知。
type Listener interface {
	OnMerged(ctx context.Context, report order.Report, result order.Result)
	OnRejected(ctx context.Context, report order.Report, err error)
}

// Tracker 为每笔订单维护累计结果，同一订单的回报按调用顺序逐条合并。
type Tracker struct {
	repo      Repository
	logger    *zap.Logger
	listeners []Listener

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu     sync.Mutex
	result order.Result
	seen   map[string]time.Time

	// 订单进入终态后清理回报编号，早于该时间的回报一律视为重复。
	settled time.Time
}

// New 创建 Tracker，repo 为 nil 时仅保存在内存中。
func New(repo Repository, logger *zap.Logger, listeners ...Listener) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		repo:      repo,
		logger:    logger,
		listeners: listeners,
		entries:   make(map[string]*entry),
	}
}

// Restore 从持久化存储恢复累计状态与已处理的回报编号。
func (t *Tracker) Restore(ctx context.Context) error {
	if t.repo == nil {
		return nil
	}

	stored, err := t.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("tracker: 恢复订单状态失败: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, item := range stored {
		e := &entry{result: item.Result, seen: make(map[string]time.Time, len(item.Reports))}
		for _, applied := range item.Reports {
			e.seen[applied.ID] = applied.At
		}
		if e.result.Status.Final() {
			e.settle()
		}
		t.entries[item.Result.OrderID] = e
	}

	t.logger.Info("已恢复订单累计状态", zap.Int("orders", len(stored)))
	return nil
}

// Apply 合并一条回报并返回该订单最新的累计结果。
func (t *Tracker) Apply(ctx context.Context, report order.Report) (order.Result, error) {
	orderID := report.Result.OrderID
	if orderID == "" {
		return order.Result{}, ErrMissingOrderID
	}

	e := t.entry(orderID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.duplicate(report) {
		t.logger.Debug("重复回报，已忽略",
			zap.String("order_id", orderID),
			zap.String("report_id", report.ID),
		)
		t.notifyRejected(ctx, report, ErrDuplicateReport)
		return e.result, ErrDuplicateReport
	}

	merged, err := order.Merge(e.result, report.Result)
	if err != nil {
		t.logger.Warn("回报与订单不匹配，已丢弃",
			zap.String("order_id", orderID),
			zap.String("report_id", report.ID),
			zap.Error(err),
		)
		t.notifyRejected(ctx, report, err)
		return e.result, fmt.Errorf("tracker: 合并订单 %s 失败: %w", orderID, err)
	}

	if t.repo != nil {
		applied := Applied{ID: report.ID, At: report.Result.OrderDate}
		if err := t.repo.Save(ctx, merged, applied); err != nil {
			t.notifyRejected(ctx, report, err)
			return e.result, fmt.Errorf("tracker: 保存订单 %s 失败: %w", orderID, err)
		}
	}

	e.result = merged
	if report.ID != "" {
		e.seen[report.ID] = report.Result.OrderDate
	}
	if merged.Status.Final() {
		e.settle()
	}

	t.logger.Debug("订单回报已合并",
		zap.String("order_id", orderID),
		zap.String("report_id", report.ID),
		zap.String("side", merged.Side()),
		zap.Stringer("result", merged),
	)
	for _, l := range t.listeners {
		l.OnMerged(ctx, report, merged)
	}

	return merged, nil
}

// Get 返回订单当前累计结果。
func (t *Tracker) Get(orderID string) (order.Result, bool) {
	t.mu.Lock()
	e, ok := t.entries[orderID]
	t.mu.Unlock()
	if !ok {
		return order.Result{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result.IsZero() {
		return order.Result{}, false
	}
	return e.result, true
}

// Snapshot 返回全部订单的累计结果，按订单号排序。
func (t *Tracker) Snapshot() []order.Result {
	t.mu.Lock()
	entries := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.Unlock()

	out := make([]order.Result, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.result.IsZero() {
			out = append(out, e.result)
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// Open 返回指定交易对尚未进入终态的订单，按订单号排序。
func (t *Tracker) Open(symbol string) []order.Result {
	var out []order.Result
	for _, result := range t.Snapshot() {
		if result.Symbol == symbol && !result.Status.Final() {
			out = append(out, result)
		}
	}
	return out
}

func (t *Tracker) entry(orderID string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[orderID]
	if !ok {
		e = &entry{seen: make(map[string]time.Time)}
		t.entries[orderID] = e
	}
	return e
}

func (e *entry) duplicate(report order.Report) bool {
	if report.ID == "" {
		return false
	}
	if _, ok := e.seen[report.ID]; ok {
		return true
	}
	return !e.settled.IsZero() && report.Result.OrderDate.Before(e.settled)
}

// settle 只保留最新成交时刻的回报编号，更早的由 settled 水位拦截。
func (e *entry) settle() {
	for _, at := range e.seen {
		if at.After(e.settled) {
			e.settled = at
		}
	}
	for id, at := range e.seen {
		if at.Before(e.settled) {
			delete(e.seen, id)
		}
	}
}

func (t *Tracker) notifyRejected(ctx context.Context, report order.Report, err error) {
	for _, l := range t.listeners {
		l.OnRejected(ctx, report, err)
	}
}
