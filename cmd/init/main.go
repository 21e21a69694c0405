// Command init creates the schema, the currency ledgers of the configured
// pair and their TigerBeetle escrow accounts. Re-running it skips ledgers
// that already exist.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Yusufzhafir/go-limitbook/internal/config"
	"github.com/Yusufzhafir/go-limitbook/internal/repository"
	ledgerRepository "github.com/Yusufzhafir/go-limitbook/internal/repository/ledger"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/Yusufzhafir/go-limitbook/pkg/util"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	tb "github.com/tigerbeetle/tigerbeetle-go"
	tbTypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
	"go.uber.org/zap"
)

const escrowCode = 1001

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := util.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Fatal("init failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if !cfg.Database.Enabled() || !cfg.TigerBeetle.Enabled() {
		return errors.New("DB_HOST and TB_ADDRESS must be set")
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting postgres: %w", err)
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}
	logger.Info("schema ready")

	client, err := tb.NewClient(tbTypes.ToUint128(cfg.TigerBeetle.ClusterID), cfg.TigerBeetle.Addresses)
	if err != nil {
		return fmt.Errorf("connecting tigerbeetle: %w", err)
	}
	defer client.Close()

	ledgerRepo := ledgerRepository.NewLedgerRepository(db)
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var escrows []tbTypes.Account
	for _, currency := range []model.Currency{cfg.Market.Base, cfg.Market.Quote} {
		_, err := ledgerRepo.GetLedgerByCurrency(ctx, tx, currency)
		if err == nil {
			logger.Info("ledger exists", zap.String("currency", string(currency)))
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		ledgerID := cfg.Market.Ledgers()[currency]
		escrow := tbTypes.Account{
			ID:     tbTypes.ID(),
			Code:   escrowCode,
			Ledger: ledgerID,
		}
		if _, err := ledgerRepo.CreateLedger(ctx, tx, currency, int64(ledgerID), escrow.ID); err != nil {
			return fmt.Errorf("creating %s ledger: %w", currency, err)
		}
		escrows = append(escrows, escrow)
		logger.Info("ledger created", zap.String("currency", string(currency)), zap.Uint32("tb_ledger", ledgerID))
	}

	// escrows only ever fund users, so their credits stay below debits
	for i := range escrows {
		escrows[i].Flags = tbTypes.AccountFlags{
			Linked:                     i < len(escrows)-1,
			CreditsMustNotExceedDebits: true,
			History:                    true,
		}.ToUint16()
	}

	if len(escrows) > 0 {
		results, err := client.CreateAccounts(escrows)
		if err != nil {
			return fmt.Errorf("creating escrow accounts: %w", err)
		}
		for _, r := range results {
			logger.Error("escrow account rejected", zap.Uint32("index", r.Index), zap.Any("result", r.Result))
		}
		if len(results) > 0 {
			return fmt.Errorf("creating escrow accounts: %d rejected", len(results))
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	ledgers, err := ledgerRepo.ListLedgers(ctx, db)
	if err != nil {
		return err
	}
	for _, l := range ledgers {
		logger.Info("ledger", zap.String("currency", l.Currency), zap.Int64("tb_ledger", l.TBLedgerID), zap.String("escrow", l.EscrowAccountID))
	}
	return nil
}
