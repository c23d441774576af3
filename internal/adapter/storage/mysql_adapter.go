package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/port"
)

// MySQLAdapter is the authoritative store for lots, users and the sell log.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) CountAvailable(ctx context.Context, lotType string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lots WHERE lot_type = ?`, lotType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count lots: %w", err)
	}
	return count, nil
}

func (m *MySQLAdapter) ListAvailable(ctx context.Context, lotType string, limit int) ([]domain.Lot, error) {
	query := `
		SELECT id, lot_type, lot_format, price, content, added_by
		FROM lots WHERE lot_type = ?
		ORDER BY price, id`
	args := []interface{}{lotType}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lots: %w", err)
	}
	defer rows.Close()

	var lots []domain.Lot
	for rows.Next() {
		var lot domain.Lot
		if err := rows.Scan(&lot.ID, &lot.Type, &lot.Format, &lot.Price, &lot.Content, &lot.AddedBy); err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (m *MySQLAdapter) Remove(ctx context.Context, ids ...int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := m.db.ExecContext(ctx, `DELETE FROM lots WHERE id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete lots: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (m *MySQLAdapter) Summary(ctx context.Context) ([]domain.StockLine, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT lot_type, MIN(price), COUNT(*)
		FROM lots GROUP BY lot_type ORDER BY lot_type`)
	if err != nil {
		return nil, fmt.Errorf("query stock summary: %w", err)
	}
	defer rows.Close()

	var lines []domain.StockLine
	for rows.Next() {
		var line domain.StockLine
		if err := rows.Scan(&line.Type, &line.MinPrice, &line.Available); err != nil {
			return nil, fmt.Errorf("scan stock line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (m *MySQLAdapter) AddLots(ctx context.Context, lots []domain.Lot) (int, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT IGNORE INTO lots (lot_type, lot_format, content, content_hash, price, added_by)
		VALUES (?, ?, ?, SHA2(?, 256), ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert lot: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, lot := range lots {
		result, err := stmt.ExecContext(ctx, lot.Type, lot.Format, lot.Content, lot.Content, lot.Price, lot.AddedBy)
		if err != nil {
			return 0, fmt.Errorf("insert lot: %w", err)
		}
		rows, _ := result.RowsAffected()
		added += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit lots: %w", err)
	}
	return added, nil
}

func (m *MySQLAdapter) RecordSale(ctx context.Context, sale domain.Sale) error {
	ids := domain.LotIDs(sale.Items)
	if len(ids) == 0 {
		return errors.New("sale has no lots")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = balance - CAST(? AS DECIMAL(18, 2))
		WHERE telegram_id = ? AND balance >= CAST(? AS DECIMAL(18, 2))`,
		sale.Total, sale.Buyer.ID, sale.Total,
	)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE telegram_id = ?`, sale.Buyer.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return port.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		return port.ErrInsufficientBalance
	}

	result, err = tx.ExecContext(ctx, `DELETE FROM lots WHERE id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("delete sold lots: %w", err)
	}
	if rows, _ := result.RowsAffected(); int(rows) != len(ids) {
		return port.ErrLotsUnavailable
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sell_log (sale_id, time, telegram_id, name, username, lot_type, lot_id, price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sell log: %w", err)
	}
	defer stmt.Close()

	for _, lot := range sale.Items {
		_, err := stmt.ExecContext(ctx, sale.ID, sale.CreatedAt, sale.Buyer.ID, sale.Buyer.Name,
			sale.Buyer.Username, lot.Type, lot.ID, lot.Price)
		if err != nil {
			return fmt.Errorf("insert sell log: %w", err)
		}
	}

	return tx.Commit()
}

func (m *MySQLAdapter) GetUser(ctx context.Context, telegramID int64) (*domain.User, error) {
	var u domain.User
	err := m.db.QueryRowContext(ctx, `
		SELECT telegram_id, name, username, balance, language, last_visit, is_ban
		FROM users WHERE telegram_id = ?`, telegramID,
	).Scan(&u.TelegramID, &u.Name, &u.Username, &u.Balance, &u.Language, &u.LastVisit, &u.IsBanned)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func (m *MySQLAdapter) CreateUser(ctx context.Context, u domain.User) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO users (telegram_id, name, username, balance, language, last_visit, is_ban)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.TelegramID, u.Name, u.Username, u.Balance, u.Language, u.LastVisit, u.IsBanned,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) TouchUser(ctx context.Context, who domain.Requester) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE users SET last_visit = ?, username = ? WHERE telegram_id = ?`,
		time.Now(), who.Username, who.ID,
	)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) TopUp(ctx context.Context, telegramID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE users SET balance = balance + ? WHERE telegram_id = ?`, amount, telegramID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("top up balance: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return decimal.Zero, port.ErrUserNotFound
	}

	var balance decimal.Decimal
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE telegram_id = ?`, telegramID).Scan(&balance); err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}

	return balance, tx.Commit()
}

func (m *MySQLAdapter) SetBan(ctx context.Context, telegramID int64, banned bool) error {
	result, err := m.db.ExecContext(ctx, `UPDATE users SET is_ban = ? WHERE telegram_id = ?`, banned, telegramID)
	if err != nil {
		return fmt.Errorf("set ban: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// MySQL reports 0 affected rows when the value is unchanged
		u, err := m.GetUser(ctx, telegramID)
		if err != nil {
			return err
		}
		if u == nil {
			return port.ErrUserNotFound
		}
	}
	return nil
}

func (m *MySQLAdapter) History(ctx context.Context, telegramID int64, limit int) ([]domain.SellRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT sale_id, time, lot_type, lot_id, price
		FROM sell_log WHERE telegram_id = ?
		ORDER BY time DESC, id DESC LIMIT ?`, telegramID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sell log: %w", err)
	}
	defer rows.Close()

	var records []domain.SellRecord
	for rows.Next() {
		var rec domain.SellRecord
		if err := rows.Scan(&rec.SaleID, &rec.Time, &rec.Type, &rec.LotID, &rec.Price); err != nil {
			return nil, fmt.Errorf("scan sell log: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
