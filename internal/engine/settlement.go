package engine

import "github.com/Yusufzhafir/go-limitbook/pkg/model"

// settle turns one fill into its two-leg, two-party settlement. Changes are
// always ordered taker base, taker quote, maker base, maker quote.
func settle(pair model.Pair, t model.Trade) model.Settlement {
	base := int64(t.Quantity)
	quote := t.Notional()
	if t.Side == model.ASK {
		base, quote = -base, -quote
	}
	return model.Settlement{
		Trade: t,
		Changes: [4]model.BalanceChange{
			{Account: t.TakerAccount, Delta: base, Currency: pair.Base},
			{Account: t.TakerAccount, Delta: -quote, Currency: pair.Quote},
			{Account: t.MakerAccount, Delta: -base, Currency: pair.Base},
			{Account: t.MakerAccount, Delta: quote, Currency: pair.Quote},
		},
	}
}
