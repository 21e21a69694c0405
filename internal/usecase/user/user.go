package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Yusufzhafir/go-limitbook/internal/repository/ledger"
	"github.com/Yusufzhafir/go-limitbook/internal/repository/order"
	repository "github.com/Yusufzhafir/go-limitbook/internal/repository/user"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/Yusufzhafir/go-limitbook/pkg/util"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
	"go.uber.org/zap"
)

var (
	ErrUsernameTaken = errors.New("username already exists")
	ErrNoLedger      = errors.New("no ledger for currency")
)

const (
	AccountCode = 1
	CodeDeposit = 1005
)

// AccountClient is the part of the TigerBeetle client the user flows need.
type AccountClient interface {
	CreateAccounts(accounts []tbtypes.Account) ([]tbtypes.AccountEventResult, error)
	LookupAccounts(accountIDs []tbtypes.Uint128) ([]tbtypes.Account, error)
	CreateTransfers(transfers []tbtypes.Transfer) ([]tbtypes.TransferEventResult, error)
}

type UserUseCase interface {
	Register(ctx context.Context, username, password string) (int64, error)
	Login(ctx context.Context, username, password string) (*repository.User, error)
	GetProfile(ctx context.Context, userID int64) (*UserProfile, error)
	Deposit(ctx context.Context, userID int64, currency model.Currency, amount int64) error
	ListOrders(ctx context.Context, userID int64, onlyActive bool) ([]order.OrderRecord, error)
	ListBalanceChanges(ctx context.Context, userID int64, limit int) ([]order.BalanceChangeRecord, error)
}

type Balance struct {
	Currency model.Currency `json:"currency"`
	Amount   string         `json:"amount"`
}

type UserProfile struct {
	*repository.User
	Balances []Balance `json:"balances"`
}

type userUseCaseImpl struct {
	repo       repository.UserRepository
	ledgerRepo ledger.LedgerRepository
	orderRepo  order.OrderRepository
	tbClient   AccountClient
	db         *sqlx.DB
	logger     *zap.Logger
}

type UserUseCaseOpts struct {
	UserRepo   repository.UserRepository
	LedgerRepo ledger.LedgerRepository
	OrderRepo  order.OrderRepository
	TbClient   AccountClient // nil runs without TigerBeetle; balances are then empty
	Db         *sqlx.DB
	Logger     *zap.Logger
}

func NewUserUseCase(opts UserUseCaseOpts) UserUseCase {
	return &userUseCaseImpl{
		repo:       opts.UserRepo,
		ledgerRepo: opts.LedgerRepo,
		orderRepo:  opts.OrderRepo,
		tbClient:   opts.TbClient,
		db:         opts.Db,
		logger:     util.OrNop(opts.Logger).Named("user"),
	}
}

// Register creates the user, one ledger row per currency, and the matching
// TigerBeetle accounts. The DB tx only commits after TigerBeetle accepted
// every account.
func (uc *userUseCaseImpl) Register(ctx context.Context, username, password string) (int64, error) {
	if username == "" || password == "" {
		return 0, errors.New("username and password are required")
	}
	existing, err := uc.repo.GetByUsername(ctx, username)
	if err == nil && existing != nil {
		return 0, ErrUsernameTaken
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	tx, err := uc.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	newUserID, err := uc.repo.Create(ctx, tx, username, password)
	if isUniqueViolation(err) {
		return 0, ErrUsernameTaken
	}
	if err != nil {
		return 0, err
	}

	ledgers, err := uc.ledgerRepo.ListLedgers(ctx, tx)
	if err != nil {
		return 0, err
	}

	accounts := NewUserAccounts(ledgers, tbtypes.ID)
	for i, l := range ledgers {
		if _, err := uc.ledgerRepo.CreateUserLedger(ctx, tx, newUserID, l.ID, accounts[i].ID); err != nil {
			return 0, fmt.Errorf("user ledger %s: %w", l.Currency, err)
		}
	}

	if uc.tbClient != nil && len(accounts) > 0 {
		results, err := uc.tbClient.CreateAccounts(accounts)
		if err != nil {
			return 0, err
		}
		for _, r := range results {
			uc.logger.Warn("account rejected",
				zap.Int64("user", newUserID),
				zap.Uint32("index", r.Index),
				zap.Any("result", r.Result))
		}
		if len(results) != 0 {
			return 0, fmt.Errorf("creating accounts in tigerbeetle: %d rejected", len(results))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	uc.logger.Info("registered", zap.Int64("user", newUserID), zap.Int("ledgers", len(ledgers)))
	return newUserID, nil
}

// NewUserAccounts builds one no-overdraft account per ledger, linked so the
// batch is created all or nothing.
func NewUserAccounts(ledgers []ledger.CurrencyLedger, newID func() tbtypes.Uint128) []tbtypes.Account {
	accounts := make([]tbtypes.Account, 0, len(ledgers))
	for i, l := range ledgers {
		flags := tbtypes.AccountFlags{
			DebitsMustNotExceedCredits: true,
			History:                    true,
			Linked:                     i < len(ledgers)-1,
		}
		accounts = append(accounts, tbtypes.Account{
			ID:     newID(),
			Ledger: uint32(l.TBLedgerID),
			Code:   AccountCode,
			Flags:  flags.ToUint16(),
		})
	}
	return accounts
}

func (uc *userUseCaseImpl) Login(ctx context.Context, username, password string) (*repository.User, error) {
	return uc.repo.VerifyPassword(ctx, username, password)
}

func (uc *userUseCaseImpl) GetProfile(ctx context.Context, userID int64) (*UserProfile, error) {
	user, err := uc.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile := &UserProfile{User: user, Balances: []Balance{}}
	if uc.tbClient == nil {
		return profile, nil
	}

	userLedgers, err := uc.ledgerRepo.ListUserLedgers(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]tbtypes.Uint128, 0, len(userLedgers))
	currencies := make(map[tbtypes.Uint128]model.Currency, len(userLedgers))
	for _, ul := range userLedgers {
		id, err := util.StringToUint128(ul.TBAccountID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		currencies[id] = model.Currency(ul.Currency)
	}
	if len(ids) == 0 {
		return profile, nil
	}

	tbAccounts, err := uc.tbClient.LookupAccounts(ids)
	if err != nil {
		return nil, err
	}
	for _, acc := range tbAccounts {
		profile.Balances = append(profile.Balances, Balance{
			Currency: currencies[acc.ID],
			Amount:   AccountBalance(acc),
		})
	}
	return profile, nil
}

// AccountBalance is posted credits minus posted debits.
func AccountBalance(acc tbtypes.Account) string {
	credits := acc.CreditsPosted.BigInt()
	debits := acc.DebitsPosted.BigInt()
	return credits.Sub(&credits, &debits).String()
}

// Deposit funds a user account from the currency's escrow account.
func (uc *userUseCaseImpl) Deposit(ctx context.Context, userID int64, currency model.Currency, amount int64) error {
	if amount <= 0 {
		return errors.New("amount must be > 0")
	}
	if uc.tbClient == nil {
		return errors.New("ledger is not configured")
	}

	cl, err := uc.ledgerRepo.GetLedgerByCurrency(ctx, uc.db, currency)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNoLedger, currency)
		}
		return err
	}
	escrow, err := util.StringToUint128(cl.EscrowAccountID)
	if err != nil {
		return err
	}
	credit, err := uc.ledgerRepo.AccountID(ctx, model.AccountId(userID), currency)
	if err != nil {
		return err
	}

	results, err := uc.tbClient.CreateTransfers([]tbtypes.Transfer{{
		ID:              tbtypes.ID(),
		DebitAccountID:  escrow,
		CreditAccountID: credit,
		Amount:          tbtypes.ToUint128(uint64(amount)),
		Ledger:          uint32(cl.TBLedgerID),
		Code:            CodeDeposit,
	}})
	if err != nil {
		return err
	}
	if len(results) > 0 {
		return fmt.Errorf("deposit transfer rejected: %v", results[0].Result)
	}
	uc.logger.Info("deposit", zap.Int64("user", userID), zap.String("currency", string(currency)), zap.Int64("amount", amount))
	return nil
}

func (uc *userUseCaseImpl) ListOrders(ctx context.Context, userID int64, onlyActive bool) ([]order.OrderRecord, error) {
	return uc.orderRepo.ListOrdersByUser(ctx, userID, onlyActive)
}

func (uc *userUseCaseImpl) ListBalanceChanges(ctx context.Context, userID int64, limit int) ([]order.BalanceChangeRecord, error) {
	return uc.orderRepo.ListBalanceChangesByUser(ctx, userID, limit)
}

// isUniqueViolation reports a postgres unique_violation, which a concurrent
// registration of the same username hits after the lookup above passed.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
