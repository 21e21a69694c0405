package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/Yusufzhafir/go-limitbook/pkg/util"
	"github.com/jmoiron/sqlx"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// CurrencyLedger ties a currency to its TigerBeetle ledger and the escrow
// account used to fund user accounts on that ledger.
type CurrencyLedger struct {
	ID              int64     `db:"id"`
	Currency        string    `db:"currency"`
	TBLedgerID      int64     `db:"tb_ledger_id"`
	EscrowAccountID string    `db:"escrow_account_id"`
	CreatedAt       time.Time `db:"created_at"`
}

type UserLedger struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	LedgerID    int64     `db:"ledger_id"`
	Currency    string    `db:"currency"`
	TBLedgerID  int64     `db:"tb_ledger_id"`
	TBAccountID string    `db:"tb_account_id"`
	CreatedAt   time.Time `db:"created_at"`
}

// --- Interface ---
type LedgerRepository interface {
	// CurrencyLedger
	CreateLedger(ctx context.Context, tx *sqlx.Tx, currency model.Currency, tbLedgerID int64, escrowAccountID tbtypes.Uint128) (int64, error)
	// Lookups accept either the db or an open tx.
	GetLedgerByCurrency(ctx context.Context, q sqlx.QueryerContext, currency model.Currency) (*CurrencyLedger, error)
	ListLedgers(ctx context.Context, q sqlx.QueryerContext) ([]CurrencyLedger, error)

	// UserLedger
	CreateUserLedger(ctx context.Context, tx *sqlx.Tx, userID int64, ledgerID int64, tbAccountID tbtypes.Uint128) (int64, error)
	GetUserLedger(ctx context.Context, userID int64, currency model.Currency) (*UserLedger, error)
	ListUserLedgers(ctx context.Context, userID int64) ([]UserLedger, error)

	// AccountID resolves the TigerBeetle account of a user in one currency.
	AccountID(ctx context.Context, account model.AccountId, currency model.Currency) (tbtypes.Uint128, error)
}

type accountKey struct {
	account  model.AccountId
	currency model.Currency
}

type ledgerRepositoryImpl struct {
	db       *sqlx.DB
	accounts sync.Map // accountKey -> tbtypes.Uint128
}

func NewLedgerRepository(db *sqlx.DB) LedgerRepository {
	return &ledgerRepositoryImpl{db: db}
}

func (r *ledgerRepositoryImpl) CreateLedger(ctx context.Context, tx *sqlx.Tx, currency model.Currency, tbLedgerID int64, escrowAccountID tbtypes.Uint128) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO currency_ledger (currency, tb_ledger_id, escrow_account_id) VALUES ($1, $2, $3) RETURNING id`,
		string(currency), tbLedgerID, util.Uint128ToString(escrowAccountID),
	).Scan(&id)
	return id, err
}

func (r *ledgerRepositoryImpl) GetLedgerByCurrency(ctx context.Context, q sqlx.QueryerContext, currency model.Currency) (*CurrencyLedger, error) {
	var l CurrencyLedger
	err := sqlx.GetContext(ctx, q, &l,
		`SELECT id, currency, tb_ledger_id, escrow_account_id, created_at FROM currency_ledger WHERE currency=$1`, string(currency))
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *ledgerRepositoryImpl) ListLedgers(ctx context.Context, q sqlx.QueryerContext) ([]CurrencyLedger, error) {
	var list []CurrencyLedger
	err := sqlx.SelectContext(ctx, q, &list,
		`SELECT id, currency, tb_ledger_id, escrow_account_id, created_at FROM currency_ledger ORDER BY id`)
	return list, err
}

// UserLedger

func (r *ledgerRepositoryImpl) CreateUserLedger(ctx context.Context, tx *sqlx.Tx, userID int64, ledgerID int64, tbAccountID tbtypes.Uint128) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO users_ledger (user_id, ledger_id, tb_account_id)
         VALUES ($1, $2, $3) RETURNING id`,
		userID, ledgerID, util.Uint128ToString(tbAccountID),
	).Scan(&id)
	return id, err
}

const userLedgerColumns = `ul.id, ul.user_id, ul.ledger_id, cl.currency, cl.tb_ledger_id, ul.tb_account_id, ul.created_at`

func (r *ledgerRepositoryImpl) GetUserLedger(ctx context.Context, userID int64, currency model.Currency) (*UserLedger, error) {
	var ul UserLedger
	err := r.db.GetContext(ctx, &ul,
		`SELECT `+userLedgerColumns+`
         FROM users_ledger ul JOIN currency_ledger cl ON cl.id = ul.ledger_id
         WHERE ul.user_id=$1 AND cl.currency=$2`,
		userID, string(currency))
	if err != nil {
		return nil, err
	}
	return &ul, nil
}

func (r *ledgerRepositoryImpl) ListUserLedgers(ctx context.Context, userID int64) ([]UserLedger, error) {
	var list []UserLedger
	err := r.db.SelectContext(ctx, &list,
		`SELECT `+userLedgerColumns+`
         FROM users_ledger ul JOIN currency_ledger cl ON cl.id = ul.ledger_id
         WHERE ul.user_id=$1
         ORDER BY cl.currency`,
		userID)
	return list, err
}

// AccountID caches lookups; user ledger rows never change once created.
func (r *ledgerRepositoryImpl) AccountID(ctx context.Context, account model.AccountId, currency model.Currency) (tbtypes.Uint128, error) {
	key := accountKey{account: account, currency: currency}
	if v, ok := r.accounts.Load(key); ok {
		return v.(tbtypes.Uint128), nil
	}
	ul, err := r.GetUserLedger(ctx, int64(account), currency)
	if err != nil {
		return tbtypes.Uint128{}, fmt.Errorf("user %d %s ledger: %w", account, currency, err)
	}
	id, err := util.StringToUint128(ul.TBAccountID)
	if err != nil {
		return tbtypes.Uint128{}, err
	}
	r.accounts.Store(key, id)
	return id, nil
}
