// Package db is the Postgres-backed store for users, wallets, orders, and
// trades. Settlement is applied in a single transaction with guarded
// updates so no failure can leave a partial balance mutation behind.
package db

import (
	"context"
	"errors"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/settlement"
)

var (
	ErrNotFound          = errors.New("db: not found")
	ErrInsufficientFunds = errors.New("db: balance would go negative")
	ErrOrderNotOpen      = errors.New("db: order not open")
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a connection pool with NUMERIC mapped to
// shopspring decimals.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates the schema if it does not exist. The CHECK constraints
// are the last line of defense for the non-negative balance invariant.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            BIGSERIAL PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS wallets (
			user_id       BIGINT PRIMARY KEY,
			quote_balance NUMERIC NOT NULL DEFAULT 0 CHECK (quote_balance >= 0),
			base_balance  NUMERIC NOT NULL DEFAULT 0 CHECK (base_balance >= 0)
		);
		CREATE TABLE IF NOT EXISTS orders (
			id         BIGSERIAL PRIMARY KEY,
			user_id    BIGINT NOT NULL,
			side       TEXT NOT NULL,
			type       TEXT NOT NULL,
			price      NUMERIC NOT NULL DEFAULT 0,
			amount     NUMERIC NOT NULL CHECK (amount > 0),
			filled     NUMERIC NOT NULL DEFAULT 0 CHECK (filled >= 0),
			status     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS orders_open_idx
			ON orders (side, price, created_at)
			WHERE status IN ('pending', 'partially_filled');
		CREATE TABLE IF NOT EXISTS trades (
			id            BIGSERIAL PRIMARY KEY,
			buy_order_id  BIGINT NOT NULL,
			sell_order_id BIGINT NOT NULL,
			buyer_id      BIGINT NOT NULL,
			seller_id     BIGINT NOT NULL,
			amount        NUMERIC NOT NULL CHECK (amount > 0),
			price         NUMERIC NOT NULL,
			total         NUMERIC NOT NULL,
			buyer_fee     NUMERIC NOT NULL DEFAULT 0,
			seller_fee    NUMERIC NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS fee_schedule (
			id             SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			maker_rate_pct NUMERIC NOT NULL DEFAULT 0 CHECK (maker_rate_pct >= 0),
			taker_rate_pct NUMERIC NOT NULL DEFAULT 0 CHECK (taker_rate_pct >= 0)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CreateUser inserts a new user with an empty wallet.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	user := &models.User{}
	err = tx.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", user.ID); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

const orderColumns = "id, user_id, side, type, price, amount, filled, status, created_at"

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(&o.ID, &o.UserID, &o.Side, &o.Type, &o.Price, &o.Amount, &o.Filled, &o.Status, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// CreateOrder inserts a new order.
func (db *DB) CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	created, err := scanOrder(db.Pool.QueryRow(ctx,
		"INSERT INTO orders (user_id, side, type, price, amount, filled, status) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+orderColumns,
		o.UserID, o.Side, o.Type, o.Price, o.Amount, o.Filled, o.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return created, nil
}

// GetOrder retrieves one order.
func (db *DB) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	o, err := scanOrder(db.Pool.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// CancelOrder marks an open order cancelled, locking the row so a racing
// settlement cannot slip between the check and the update.
func (db *DB) CancelOrder(ctx context.Context, orderID int64) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var status models.OrderStatus
	err = tx.QueryRow(ctx,
		"SELECT status FROM orders WHERE id = $1 FOR UPDATE", orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get order: %w", err)
	}
	if status != models.StatusPending && status != models.StatusPartiallyFilled {
		return ErrOrderNotOpen
	}
	if _, err := tx.Exec(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2", models.StatusCancelled, orderID); err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	return tx.Commit(ctx)
}

func (db *DB) queryOrders(ctx context.Context, sql string, args ...any) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// OpenOrders returns all pending and partially filled orders, oldest first.
func (db *DB) OpenOrders(ctx context.Context) ([]models.Order, error) {
	return db.queryOrders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status IN ($1, $2) ORDER BY created_at ASC, id ASC",
		models.StatusPending, models.StatusPartiallyFilled)
}

// UserOrders returns a user's orders, newest first.
func (db *DB) UserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return db.queryOrders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY id DESC", userID)
}

// Wallet retrieves a user's balances.
func (db *DB) Wallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := db.Pool.QueryRow(ctx,
		"SELECT user_id, quote_balance, base_balance FROM wallets WHERE user_id = $1",
		userID).Scan(&w.UserID, &w.QuoteBalance, &w.BaseBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// Deposit credits a wallet, creating it if needed. Trading mutations go
// exclusively through ApplySettlement.
func (db *DB) Deposit(ctx context.Context, userID int64, quote, base decimal.Decimal) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO wallets (user_id, quote_balance, base_balance) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			quote_balance = wallets.quote_balance + EXCLUDED.quote_balance,
			base_balance  = wallets.base_balance + EXCLUDED.base_balance`,
		userID, quote, base)
	if err != nil {
		return fmt.Errorf("failed to deposit: %w", err)
	}
	return nil
}

// ApplySettlement applies one fill as a single transaction: buyer and
// seller wallet legs, fee capture, order fill updates, and the trade row.
// Every balance update is guarded in SQL; a guard miss aborts the whole
// transaction.
func (db *DB) ApplySettlement(ctx context.Context, st *settlement.Settlement) (*models.Trade, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if st.BuyerID == st.SellerID {
		// Self-trade: one wallet carries all four legs. The base legs net
		// to zero and the quote legs net to the two fees.
		netQuote := st.SellerQuoteCredit.Sub(st.BuyerQuoteDebit)
		tag, err := tx.Exec(ctx,
			"UPDATE wallets SET quote_balance = quote_balance + $1 WHERE user_id = $2 AND quote_balance + $1 >= 0",
			netQuote, st.BuyerID)
		if err != nil {
			return nil, fmt.Errorf("self-trade wallet leg: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("self-trade wallet leg for user %d: %w", st.BuyerID, ErrInsufficientFunds)
		}
	} else {
		tag, err := tx.Exec(ctx,
			"UPDATE wallets SET quote_balance = quote_balance - $1, base_balance = base_balance + $2 WHERE user_id = $3 AND quote_balance >= $1",
			st.BuyerQuoteDebit, st.Amount, st.BuyerID)
		if err != nil {
			return nil, fmt.Errorf("buyer wallet leg: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("buyer wallet leg for user %d: %w", st.BuyerID, ErrInsufficientFunds)
		}

		tag, err = tx.Exec(ctx,
			"UPDATE wallets SET base_balance = base_balance - $1, quote_balance = quote_balance + $2 WHERE user_id = $3 AND base_balance >= $1",
			st.Amount, st.SellerQuoteCredit, st.SellerID)
		if err != nil {
			return nil, fmt.Errorf("seller wallet leg: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("seller wallet leg for user %d: %w", st.SellerID, ErrInsufficientFunds)
		}
	}

	if st.FeeAccountCredit.IsPositive() {
		_, err = tx.Exec(ctx, `
			INSERT INTO wallets (user_id, quote_balance) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET quote_balance = wallets.quote_balance + EXCLUDED.quote_balance`,
			st.FeeAccountID, st.FeeAccountCredit)
		if err != nil {
			return nil, fmt.Errorf("fee account leg: %w", err)
		}
	}

	for _, leg := range []struct {
		orderID int64
		filled  decimal.Decimal
		status  models.OrderStatus
	}{
		{st.BuyOrderID, st.BuyNewFilled, st.BuyNewStatus},
		{st.SellOrderID, st.SellNewFilled, st.SellNewStatus},
	} {
		tag, err := tx.Exec(ctx,
			"UPDATE orders SET filled = $1, status = $2 WHERE id = $3 AND status IN ($4, $5) AND $1 <= amount",
			leg.filled, leg.status, leg.orderID, models.StatusPending, models.StatusPartiallyFilled)
		if err != nil {
			return nil, fmt.Errorf("order %d fill update: %w", leg.orderID, err)
		}
		if tag.RowsAffected() == 0 {
			// The order is closed or the fill overruns it: the book and the
			// store disagree, which only a serialization bug can cause.
			return nil, fmt.Errorf("order %d fill update rejected: %w", leg.orderID, ErrOrderNotOpen)
		}
	}

	trade := &models.Trade{}
	err = tx.QueryRow(ctx, `
		INSERT INTO trades (buy_order_id, sell_order_id, buyer_id, seller_id, amount, price, total, buyer_fee, seller_fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, buy_order_id, sell_order_id, buyer_id, seller_id, amount, price, total, buyer_fee, seller_fee, created_at`,
		st.BuyOrderID, st.SellOrderID, st.BuyerID, st.SellerID,
		st.Amount, st.Price, st.Total, st.BuyerFee, st.SellerFee).Scan(
		&trade.ID, &trade.BuyOrderID, &trade.SellOrderID, &trade.BuyerID, &trade.SellerID,
		&trade.Amount, &trade.Price, &trade.Total, &trade.BuyerFee, &trade.SellerFee, &trade.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return trade, nil
}

const tradeColumns = "id, buy_order_id, sell_order_id, buyer_id, seller_id, amount, price, total, buyer_fee, seller_fee, created_at"

func (db *DB) queryTrades(ctx context.Context, sql string, args ...any) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID,
			&t.Amount, &t.Price, &t.Total, &t.BuyerFee, &t.SellerFee, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RecentTrades returns up to limit trades, newest first.
func (db *DB) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	return db.queryTrades(ctx,
		"SELECT "+tradeColumns+" FROM trades ORDER BY id DESC LIMIT $1", limit)
}

// TradesForOrder returns the trades an order participated in, oldest first.
func (db *DB) TradesForOrder(ctx context.Context, orderID int64) ([]models.Trade, error) {
	return db.queryTrades(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE buy_order_id = $1 OR sell_order_id = $1 ORDER BY id ASC", orderID)
}

// LastTradePrice implements exchange.PriceSource.
func (db *DB) LastTradePrice(ctx context.Context) (decimal.Decimal, bool, error) {
	var price decimal.Decimal
	err := db.Pool.QueryRow(ctx,
		"SELECT price FROM trades ORDER BY id DESC LIMIT 1").Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("failed to get last trade price: %w", err)
	}
	return price, true, nil
}

// FeeSchedule implements fees.Source from the fee_schedule row.
func (db *DB) FeeSchedule(ctx context.Context) (models.FeeSchedule, error) {
	var s models.FeeSchedule
	err := db.Pool.QueryRow(ctx,
		"SELECT maker_rate_pct, taker_rate_pct FROM fee_schedule WHERE id = 1").Scan(&s.MakerRatePct, &s.TakerRatePct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FeeSchedule{MakerRatePct: decimal.Zero, TakerRatePct: decimal.Zero}, nil
		}
		return s, fmt.Errorf("failed to get fee schedule: %w", err)
	}
	return s, nil
}

// SetFeeSchedule upserts the fee schedule row.
func (db *DB) SetFeeSchedule(ctx context.Context, s models.FeeSchedule) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO fee_schedule (id, maker_rate_pct, taker_rate_pct) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET maker_rate_pct = $1, taker_rate_pct = $2`,
		s.MakerRatePct, s.TakerRatePct)
	if err != nil {
		return fmt.Errorf("failed to set fee schedule: %w", err)
	}
	return nil
}
