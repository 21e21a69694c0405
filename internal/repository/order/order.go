package order

import (
	"context"
	"fmt"
	"time"

	"github.com/Yusufzhafir/go-limitbook/internal/engine"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/jmoiron/sqlx"
)

// --- Models corresponding to DB tables ---
type OrderRecord struct {
	ID        uint64     `db:"id" json:"id"`
	Symbol    string     `db:"symbol" json:"symbol"`
	UserID    int64      `db:"user_id" json:"user_id"`
	Side      int8       `db:"side" json:"side"` // 0 = BID, 1 = ASK
	Price     int64      `db:"price" json:"price"`
	Quantity  int64      `db:"quantity" json:"quantity"`
	Remaining int64      `db:"remaining" json:"remaining"`
	IsActive  bool       `db:"is_active" json:"is_active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ClosedAt  *time.Time `db:"closed_at" json:"closed_at"`
}

type TradeRecord struct {
	ID           int64     `db:"id" json:"id"`
	Symbol       string    `db:"symbol" json:"symbol"`
	OrderTakerID uint64    `db:"order_taker_id" json:"order_taker_id"`
	OrderMakerID uint64    `db:"order_maker_id" json:"order_maker_id"`
	TakerUserID  int64     `db:"taker_user_id" json:"taker_user_id"`
	MakerUserID  int64     `db:"maker_user_id" json:"maker_user_id"`
	Side         int8      `db:"side" json:"side"`
	Quantity     int64     `db:"quantity" json:"quantity"`
	Price        int64     `db:"price" json:"price"`
	TradedAt     time.Time `db:"traded_at" json:"traded_at"`
}

type BalanceChangeRecord struct {
	ID        int64     `db:"id" json:"id"`
	TradeID   int64     `db:"trade_id" json:"trade_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Currency  string    `db:"currency" json:"currency"`
	Delta     int64     `db:"delta" json:"delta"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// --- Repository Interface ---
type OrderRepository interface {
	CreateOrder(ctx context.Context, tx *sqlx.Tx, order OrderRecord) error
	FillOrder(ctx context.Context, tx *sqlx.Tx, symbol string, orderID uint64, quantity int64, at time.Time) error
	CreateTrade(ctx context.Context, tx *sqlx.Tx, trade TradeRecord) (int64, error)
	CreateBalanceChange(ctx context.Context, tx *sqlx.Tx, change BalanceChangeRecord) error
	ListOrdersByUser(ctx context.Context, userID int64, onlyActive bool) ([]OrderRecord, error)
	ListBalanceChangesByUser(ctx context.Context, userID int64, limit int) ([]BalanceChangeRecord, error)
	// LastOrderID is the highest recorded order id of symbol, 0 when none.
	LastOrderID(ctx context.Context, symbol string) (uint64, error)
}

// --- Implementation ---
type orderRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) OrderRepository {
	return &orderRepositoryImpl{db: db}
}

func (r *orderRepositoryImpl) CreateOrder(ctx context.Context, tx *sqlx.Tx, order OrderRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, symbol, user_id, side, price, quantity, remaining, is_active, created_at, closed_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		order.ID, order.Symbol, order.UserID, order.Side, order.Price, order.Quantity, order.Remaining,
		order.IsActive, order.CreatedAt, order.ClosedAt)
	return err
}

// FillOrder reduces a resting order and closes it once nothing remains.
func (r *orderRepositoryImpl) FillOrder(ctx context.Context, tx *sqlx.Tx, symbol string, orderID uint64, quantity int64, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders
         SET remaining = remaining - $1,
             is_active = remaining - $1 > 0,
             closed_at = CASE WHEN remaining - $1 > 0 THEN NULL ELSE $2 END
         WHERE symbol=$3 AND id=$4 AND remaining >= $1`,
		quantity, at, symbol, orderID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("order %d: fill of %d matched %d rows", orderID, quantity, n)
	}
	return nil
}

func (r *orderRepositoryImpl) CreateTrade(ctx context.Context, tx *sqlx.Tx, trade TradeRecord) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO trades (symbol, order_taker_id, order_maker_id, taker_user_id, maker_user_id,
                             side, quantity, price, traded_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		trade.Symbol, trade.OrderTakerID, trade.OrderMakerID, trade.TakerUserID, trade.MakerUserID,
		trade.Side, trade.Quantity, trade.Price, trade.TradedAt).Scan(&id)
	return id, err
}

func (r *orderRepositoryImpl) CreateBalanceChange(ctx context.Context, tx *sqlx.Tx, change BalanceChangeRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO balance_changes (trade_id, user_id, currency, delta) VALUES ($1,$2,$3,$4)`,
		change.TradeID, change.UserID, change.Currency, change.Delta)
	return err
}

func (r *orderRepositoryImpl) ListOrdersByUser(ctx context.Context, userID int64, onlyActive bool) ([]OrderRecord, error) {
	var orders []OrderRecord
	query := `SELECT id, symbol, user_id, side, price, quantity, remaining, is_active, created_at, closed_at
              FROM orders WHERE user_id=$1`
	if onlyActive {
		query += ` AND is_active=true`
	}
	err := r.db.SelectContext(ctx, &orders, query+` ORDER BY created_at DESC`, userID)
	return orders, err
}

func (r *orderRepositoryImpl) ListBalanceChangesByUser(ctx context.Context, userID int64, limit int) ([]BalanceChangeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var changes []BalanceChangeRecord
	err := r.db.SelectContext(ctx, &changes,
		`SELECT id, trade_id, user_id, currency, delta, created_at
         FROM balance_changes WHERE user_id=$1 ORDER BY id DESC LIMIT $2`,
		userID, limit)
	return changes, err
}

func (r *orderRepositoryImpl) LastOrderID(ctx context.Context, symbol string) (uint64, error) {
	var id uint64
	err := r.db.GetContext(ctx, &id, `SELECT COALESCE(MAX(id), 0) FROM orders WHERE symbol=$1`, symbol)
	return id, err
}

// NewOrderRecord maps the submitted order after matching.
func NewOrderRecord(symbol string, result engine.SubmitResult, at time.Time) OrderRecord {
	o := result.Order
	rec := OrderRecord{
		ID:        uint64(o.GetId()),
		Symbol:    symbol,
		UserID:    int64(o.GetAccount()),
		Side:      int8(o.GetSide()),
		Price:     int64(o.GetPrice()),
		Quantity:  int64(o.GetInitialQuantity()),
		Remaining: int64(result.RestedQuantity()),
		IsActive:  result.Rested,
		CreatedAt: at,
	}
	if !result.Rested {
		rec.ClosedAt = &at
	}
	return rec
}

func NewTradeRecord(symbol string, t model.Trade) TradeRecord {
	return TradeRecord{
		Symbol:       symbol,
		OrderTakerID: uint64(t.TakerID),
		OrderMakerID: uint64(t.MakerID),
		TakerUserID:  int64(t.TakerAccount),
		MakerUserID:  int64(t.MakerAccount),
		Side:         int8(t.Side),
		Quantity:     int64(t.Quantity),
		Price:        int64(t.Price),
		TradedAt:     t.Timestamp,
	}
}

// Recorder persists each submission as one transaction: the taker's order
// row, the maker fills, the trades and their balance changes.
type Recorder struct {
	db     *sqlx.DB
	repo   OrderRepository
	symbol string
	now    func() time.Time
}

func NewRecorder(db *sqlx.DB, repo OrderRepository, symbol string) *Recorder {
	return &Recorder{db: db, repo: repo, symbol: symbol, now: time.Now}
}

func (rc *Recorder) Settle(ctx context.Context, result engine.SubmitResult) error {
	tx, err := rc.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := rc.now()
	if err := rc.repo.CreateOrder(ctx, tx, NewOrderRecord(rc.symbol, result, now)); err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}

	for _, st := range result.Settlements {
		if err := rc.repo.FillOrder(ctx, tx, rc.symbol, uint64(st.Trade.MakerID), int64(st.Trade.Quantity), now); err != nil {
			return fmt.Errorf("filling maker: %w", err)
		}
		tradeID, err := rc.repo.CreateTrade(ctx, tx, NewTradeRecord(rc.symbol, st.Trade))
		if err != nil {
			return fmt.Errorf("inserting trade: %w", err)
		}
		for _, c := range st.Changes {
			err := rc.repo.CreateBalanceChange(ctx, tx, BalanceChangeRecord{
				TradeID:  tradeID,
				UserID:   int64(c.Account),
				Currency: string(c.Currency),
				Delta:    c.Delta,
			})
			if err != nil {
				return fmt.Errorf("inserting balance change: %w", err)
			}
		}
	}
	return tx.Commit()
}
