// Command console matches orders read from stdin, one per line as
// "account amount price side" with side 1 for buy and 0 for sell, and
// prints the resulting balance changes.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Yusufzhafir/go-limitbook/internal/config"
	"github.com/Yusufzhafir/go-limitbook/internal/engine"
	"github.com/Yusufzhafir/go-limitbook/internal/feed"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/Yusufzhafir/go-limitbook/pkg/util"
	"go.uber.org/zap"
)

func main() {
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

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	e := engine.NewOrderBookEngine(cfg.Market.Pair())
	if err := run(os.Stdin, out, e, logger); err != nil {
		logger.Fatal("console stopped", zap.Error(err))
	}
}

func run(in io.Reader, out io.Writer, e engine.OrderBookEngine, logger *zap.Logger) error {
	pair := e.Pair()
	fmt.Fprintf(out, "Orderbook %s started. Enter orders: [account] [amount] [price] [1=buy/0=sell]\n", pair.Symbol())

	reader := feed.NewReader(in)
	for {
		order, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var lineErr *feed.LineError
		if errors.As(err, &lineErr) {
			logger.Debug("skipping line", zap.Error(err))
			fmt.Fprintln(out, "Invalid input! Try again.")
			continue
		}
		if err != nil {
			return err
		}

		res, err := e.Submit(order)
		if err != nil {
			logger.Debug("rejected order", zap.Error(err))
			fmt.Fprintln(out, "Invalid input! Try again.")
			continue
		}
		printResult(out, pair, res)
	}
}

func printResult(out io.Writer, pair model.Pair, res engine.SubmitResult) {
	for _, s := range res.Settlements {
		fmt.Fprintf(out, "--- MATCH EXECUTED (%d %s @ %d %s) ---\n", s.Trade.Quantity, pair.Base, s.Trade.Price, pair.Quote)
		for _, c := range s.Changes {
			sign := ""
			if c.Delta > 0 {
				sign = "+"
			}
			fmt.Fprintf(out, "User %d: %s%d %s\n", c.Account, sign, c.Delta, c.Currency)
		}
	}
	if res.Rested {
		book := "BIDS"
		if res.Order.GetSide() == model.ASK {
			book = "ASKS"
		}
		fmt.Fprintf(out, "Order placed in %s (rest: %d)\n", book, res.RestedQuantity())
	}
}
