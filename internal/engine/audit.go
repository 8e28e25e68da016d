package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trade-core/internal/ledger"
)

// AuditEntry 是一条只追加的成交审计记录。
type AuditEntry struct {
	Timestamp time.Time
	Symbol    string
	Side      ledger.Side
	Size      float64
	Price     float64
	Status    string
	Equity    float64
	Reason    string
}

// Audit 把每笔信号的处理结果落到 SQLite。写失败由调用方
// 按尽力而为处理，不影响交易状态。
type Audit struct {
	db *sql.DB
}

// NewAudit 初始化审计表。
func NewAudit(db *sql.DB) (*Audit, error) {
	if db == nil {
		return nil, errors.New("engine: 数据库实例不能为空")
	}

	schema := `CREATE TABLE IF NOT EXISTS trade_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		size REAL NOT NULL,
		price REAL NOT NULL,
		status TEXT NOT NULL,
		equity REAL NOT NULL,
		reason TEXT
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("engine: 初始化审计表失败: %w", err)
	}
	return &Audit{db: db}, nil
}

// Append 追加一条审计记录。
func (a *Audit) Append(ctx context.Context, entry AuditEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO trade_audit (occurred_at, symbol, side, size, price, status, equity, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.Format(time.RFC3339), entry.Symbol, string(entry.Side),
		entry.Size, entry.Price, entry.Status, entry.Equity, entry.Reason,
	)
	if err != nil {
		return fmt.Errorf("engine: 写入审计记录失败: %w", err)
	}
	return nil
}

// Recent 返回最近 limit 条审计记录，监控端点用。
func (a *Audit) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT occurred_at, symbol, side, size, price, status, equity, reason
		 FROM trade_audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("engine: 查询审计记录失败: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			entry AuditEntry
			ts    string
			side  string
		)
		if err := rows.Scan(&ts, &entry.Symbol, &side, &entry.Size,
			&entry.Price, &entry.Status, &entry.Equity, &entry.Reason); err != nil {
			return nil, fmt.Errorf("engine: 解析审计记录失败: %w", err)
		}
		if parsed, parseErr := time.Parse(time.RFC3339, ts); parseErr == nil {
			entry.Timestamp = parsed
		}
		entry.Side = ledger.Side(side)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
