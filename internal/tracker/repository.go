package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"order-tracker/internal/order"
	"order-tracker/internal/store"
)

// Applied 为已合并的回报编号及其成交时间。
type Applied struct {
	ID string
	At time.Time
}

// Stored 为持久化的订单累计状态及已合并的回报。
type Stored struct {
	Result  order.Result
	Reports []Applied
}

// Repository 持久化订单累计结果。
// 累计结果进入终态时，Save 只保留最新成交时刻的回报编号。
type Repository interface {
	Save(ctx context.Context, result order.Result, applied Applied) error
	Load(ctx context.Context) ([]Stored, error)
}

// SQLRepository 基于 SQLite 的 Repository 实现，金额以文本保存以保持精度。
type SQLRepository struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS order_results (
		order_id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		is_buy INTEGER NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL,
		amount TEXT NOT NULL,
		amount_filled TEXT NOT NULL,
		price TEXT NOT NULL,
		average_price TEXT NOT NULL,
		order_date TEXT NOT NULL,
		fees TEXT NOT NULL,
		fees_currency TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS applied_reports (
		report_id TEXT NOT NULL,
		order_id TEXT NOT NULL REFERENCES order_results(order_id) ON DELETE CASCADE,
		reported_at INTEGER NOT NULL,
		applied_at TEXT NOT NULL,
		PRIMARY KEY (order_id, report_id)
	);`,
}

// NewSQLRepository 初始化表结构。
func NewSQLRepository(ctx context.Context, s *store.Store) (*SQLRepository, error) {
	if s == nil {
		return nil, errors.New("tracker: store 不能为空")
	}
	if err := s.Migrate(ctx, schema...); err != nil {
		return nil, fmt.Errorf("tracker: 初始化表失败: %w", err)
	}
	return &SQLRepository{db: s.DB()}, nil
}

// Save 在同一事务内写入累计结果与回报编号。
func (r *SQLRepository) Save(ctx context.Context, result order.Result, applied Applied) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tracker: 开启事务失败: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO order_results (
	order_id, symbol, is_buy, status, message, amount, amount_filled,
	price, average_price, order_date, fees, fees_currency, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(order_id) DO UPDATE SET
	symbol = excluded.symbol,
	is_buy = excluded.is_buy,
	status = excluded.status,
	message = excluded.message,
	amount = excluded.amount,
	amount_filled = excluded.amount_filled,
	price = excluded.price,
	average_price = excluded.average_price,
	order_date = excluded.order_date,
	fees = excluded.fees,
	fees_currency = excluded.fees_currency,
	updated_at = excluded.updated_at`,
		result.OrderID, result.Symbol, boolToInt(result.IsBuy), string(result.Status), result.Message,
		result.Amount.String(), result.AmountFilled.String(),
		result.Price.String(), result.AveragePrice.String(),
		formatTime(result.OrderDate), result.Fees.String(), result.FeesCurrency, now,
	)
	if err != nil {
		return fmt.Errorf("tracker: 写入订单结果失败: %w", err)
	}

	if applied.ID != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO applied_reports (report_id, order_id, reported_at, applied_at) VALUES (?, ?, ?, ?)`,
			applied.ID, result.OrderID, unixNano(applied.At), now,
		); err != nil {
			return fmt.Errorf("tracker: 写入回报编号失败: %w", err)
		}
	}

	if result.Status.Final() {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM applied_reports
WHERE order_id = ? AND reported_at < (
	SELECT MAX(reported_at) FROM applied_reports WHERE order_id = ?
)`, result.OrderID, result.OrderID); err != nil {
			return fmt.Errorf("tracker: 清理回报编号失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tracker: 提交事务失败: %w", err)
	}
	return nil
}

// Load 读取全部订单累计结果。
func (r *SQLRepository) Load(ctx context.Context) ([]Stored, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT order_id, symbol, is_buy, status, message, amount, amount_filled,
	price, average_price, order_date, fees, fees_currency
FROM order_results ORDER BY order_id`)
	if err != nil {
		return nil, fmt.Errorf("tracker: 查询订单结果失败: %w", err)
	}
	defer rows.Close()

	var (
		out   []Stored
		index = make(map[string]int)
	)
	for rows.Next() {
		var (
			res                              order.Result
			isBuy                            int
			status, orderDate                string
			amount, filled, price, avg, fees string
		)
		if err := rows.Scan(&res.OrderID, &res.Symbol, &isBuy, &status, &res.Message,
			&amount, &filled, &price, &avg, &orderDate, &fees, &res.FeesCurrency); err != nil {
			return nil, fmt.Errorf("tracker: 解析订单结果失败: %w", err)
		}

		res.IsBuy = isBuy != 0
		res.Status = order.Status(status)
		if res.OrderDate, err = parseTime(orderDate); err != nil {
			return nil, fmt.Errorf("tracker: 订单 %s 时间无效: %w", res.OrderID, err)
		}
		if err := parseDecimals(
			decimalField{amount, &res.Amount},
			decimalField{filled, &res.AmountFilled},
			decimalField{price, &res.Price},
			decimalField{avg, &res.AveragePrice},
			decimalField{fees, &res.Fees},
		); err != nil {
			return nil, fmt.Errorf("tracker: 订单 %s 金额无效: %w", res.OrderID, err)
		}

		index[res.OrderID] = len(out)
		out = append(out, Stored{Result: res})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracker: 读取订单结果失败: %w", err)
	}

	reportRows, err := r.db.QueryContext(ctx, `SELECT order_id, report_id, reported_at FROM applied_reports`)
	if err != nil {
		return nil, fmt.Errorf("tracker: 查询回报编号失败: %w", err)
	}
	defer reportRows.Close()

	for reportRows.Next() {
		var (
			orderID, reportID string
			reportedAt        int64
		)
		if err := reportRows.Scan(&orderID, &reportID, &reportedAt); err != nil {
			return nil, fmt.Errorf("tracker: 解析回报编号失败: %w", err)
		}
		if i, ok := index[orderID]; ok {
			out[i].Reports = append(out[i].Reports, Applied{ID: reportID, At: fromUnixNano(reportedAt)})
		}
	}
	if err := reportRows.Err(); err != nil {
		return nil, fmt.Errorf("tracker: 读取回报编号失败: %w", err)
	}

	return out, nil
}

type decimalField struct {
	raw string
	dst *decimal.Decimal
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// 零值时间记为 0，UnixNano 对其结果未定义。
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
