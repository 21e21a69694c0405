package settlement

import (
	"context"
	"fmt"

	"github.com/Yusufzhafir/go-limitbook/internal/engine"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/Yusufzhafir/go-limitbook/pkg/util"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
	"go.uber.org/zap"
)

// Transfer codes recorded on settlement transfers.
const (
	CodeQuoteLeg uint16 = 3001
	CodeBaseLeg  uint16 = 3002
)

// TransferCreator is the part of the TigerBeetle client the sink needs.
type TransferCreator interface {
	CreateTransfers(transfers []tbtypes.Transfer) ([]tbtypes.TransferEventResult, error)
}

// AccountResolver maps an account and currency to its TigerBeetle account.
type AccountResolver interface {
	AccountID(ctx context.Context, account model.AccountId, currency model.Currency) (tbtypes.Uint128, error)
}

type TigerBeetleSink struct {
	client   TransferCreator
	accounts AccountResolver
	ledgers  map[model.Currency]uint32
	logger   *zap.Logger
}

func NewTigerBeetleSink(client TransferCreator, accounts AccountResolver, ledgers map[model.Currency]uint32, logger *zap.Logger) *TigerBeetleSink {
	return &TigerBeetleSink{
		client:   client,
		accounts: accounts,
		ledgers:  ledgers,
		logger:   util.OrNop(logger).Named("tigerbeetle"),
	}
}

// Settle posts every fill of the submission in one batch. The legs of a
// fill form a linked chain so they commit or fail together.
func (s *TigerBeetleSink) Settle(ctx context.Context, result engine.SubmitResult) error {
	if len(result.Settlements) == 0 {
		return nil
	}
	transfers := make([]tbtypes.Transfer, 0, len(result.Settlements)*2)
	for _, st := range result.Settlements {
		legs, err := s.BuildTransfers(ctx, st)
		if err != nil {
			return err
		}
		transfers = append(transfers, legs...)
	}

	results, err := s.client.CreateTransfers(transfers)
	if err != nil {
		return fmt.Errorf("create settlement transfers: %w", err)
	}
	if len(results) > 0 {
		for _, r := range results {
			s.logger.Error("settlement transfer rejected",
				zap.Uint32("index", r.Index),
				zap.Any("result", r.Result),
			)
		}
		return fmt.Errorf("settlement transfer failures: %+v", results)
	}
	s.logger.Debug("settlement posted", zap.Int("transfers", len(transfers)))
	return nil
}

// BuildTransfers turns one settlement into its base leg (seller to buyer)
// and, when the notional is non-zero, its quote leg (buyer to seller).
func (s *TigerBeetleSink) BuildTransfers(ctx context.Context, st model.Settlement) ([]tbtypes.Transfer, error) {
	base, quote := st.Changes[0].Currency, st.Changes[1].Currency
	baseLedger, ok := s.ledgers[base]
	if !ok {
		return nil, fmt.Errorf("no ledger for currency %s", base)
	}
	quoteLedger, ok := s.ledgers[quote]
	if !ok {
		return nil, fmt.Errorf("no ledger for currency %s", quote)
	}

	tr := st.Trade
	buyerBase, err := s.accounts.AccountID(ctx, tr.Buyer(), base)
	if err != nil {
		return nil, fmt.Errorf("buyer %s account: %w", base, err)
	}
	sellerBase, err := s.accounts.AccountID(ctx, tr.Seller(), base)
	if err != nil {
		return nil, fmt.Errorf("seller %s account: %w", base, err)
	}

	baseLeg := tbtypes.Transfer{
		ID:              tbtypes.ID(),
		DebitAccountID:  sellerBase,
		CreditAccountID: buyerBase,
		Amount:          tbtypes.ToUint128(uint64(tr.Quantity)),
		UserData128:     tbtypes.ToUint128(uint64(tr.MakerID)),
		UserData64:      uint64(tr.TakerID),
		Ledger:          baseLedger,
		Code:            CodeBaseLeg,
	}
	if tr.Notional() == 0 {
		return []tbtypes.Transfer{baseLeg}, nil
	}

	buyerQuote, err := s.accounts.AccountID(ctx, tr.Buyer(), quote)
	if err != nil {
		return nil, fmt.Errorf("buyer %s account: %w", quote, err)
	}
	sellerQuote, err := s.accounts.AccountID(ctx, tr.Seller(), quote)
	if err != nil {
		return nil, fmt.Errorf("seller %s account: %w", quote, err)
	}

	baseLeg.Flags = tbtypes.TransferFlags{Linked: true}.ToUint16()
	quoteLeg := tbtypes.Transfer{
		ID:              tbtypes.ID(),
		DebitAccountID:  buyerQuote,
		CreditAccountID: sellerQuote,
		Amount:          tbtypes.ToUint128(uint64(tr.Notional())),
		UserData128:     tbtypes.ToUint128(uint64(tr.MakerID)),
		UserData64:      uint64(tr.TakerID),
		Ledger:          quoteLedger,
		Code:            CodeQuoteLeg,
	}
	return []tbtypes.Transfer{baseLeg, quoteLeg}, nil
}
