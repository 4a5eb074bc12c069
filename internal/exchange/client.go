package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"order-tracker/internal/config"
	"order-tracker/internal/order"
)

// venue 为 Client 依赖的 ccxt 能力子集。
type venue interface {
	FetchMyTrades(options ...ccxt.FetchMyTradesOptions) ([]ccxt.Trade, error)
	FetchOrder(id string, options ...ccxt.FetchOrderOptions) (ccxt.Order, error)
}

// Client 负责与交易所交互并实现重试机制。
type Client struct {
	cfg         config.ExchangeConfig
	logger      *zap.Logger
	exchange    venue
	loadMarkets func() error

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.EqualFold(cfg.Name, "binanceusdm") {
		return nil, fmt.Errorf("exchange: 暂不支持交易所 %q", cfg.Name)
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return newClient(cfg, ex, func() error {
		_, err := ex.LoadMarkets()
		return err
	}, logger), nil
}

func newClient(cfg config.ExchangeConfig, ex venue, loadMarkets func() error, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:         cfg,
		logger:      logger,
		exchange:    ex,
		loadMarkets: loadMarkets,
	}
}

// FetchReports 拉取 since 之后的成交，并按时间顺序转换为增量回报。
func (c *Client) FetchReports(ctx context.Context, symbol string, since time.Time, limit int) ([]order.Report, error) {
	if limit <= 0 {
		limit = 100
	}

	var raw []ccxt.Trade
	err := c.callWithRetry(ctx, "fetch_my_trades", func() error {
		if err := c.ensureMarketsLoaded(); err != nil {
			return err
		}

		opts := []ccxt.FetchMyTradesOptions{
			ccxt.WithFetchMyTradesSymbol(symbol),
			ccxt.WithFetchMyTradesLimit(int64(limit)),
		}
		if !since.IsZero() {
			opts = append(opts, ccxt.WithFetchMyTradesSince(since.UnixMilli()))
		}

		trades, err := c.exchange.FetchMyTrades(opts...)
		if err != nil {
			return err
		}

		raw = trades
		return nil
	})
	if err != nil {
		return nil, err
	}

	reports := make([]order.Report, 0, len(raw))
	for _, trade := range raw {
		report, ok := ConvertTrade(trade)
		if !ok {
			c.logger.Debug("成交缺少订单号，已忽略", zap.String("symbol", symbol))
			continue
		}
		reports = append(reports, report)
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Result.OrderDate.Before(reports[j].Result.OrderDate)
	})

	return reports, nil
}

// FetchOrder 获取订单在交易所侧的完整状态。
func (c *Client) FetchOrder(ctx context.Context, id, symbol string) (order.Result, error) {
	var raw ccxt.Order
	err := c.callWithRetry(ctx, "fetch_order", func() error {
		if err := c.ensureMarketsLoaded(); err != nil {
			return err
		}

		o, err := c.exchange.FetchOrder(id, ccxt.WithFetchOrderSymbol(symbol))
		if err != nil {
			return err
		}

		raw = o
		return nil
	})
	if err != nil {
		return order.Result{}, err
	}

	return ConvertOrder(raw), nil
}

func (c *Client) ensureMarketsLoaded() error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded || c.loadMarkets == nil {
		return nil
	}

	if err := c.loadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.Strings("markets", c.cfg.Markets))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
