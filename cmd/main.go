package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Yusufzhafir/go-limitbook/internal/config"
	"github.com/Yusufzhafir/go-limitbook/internal/engine"
	ledgerRepository "github.com/Yusufzhafir/go-limitbook/internal/repository/ledger"
	orderRepository "github.com/Yusufzhafir/go-limitbook/internal/repository/order"
	userRepository "github.com/Yusufzhafir/go-limitbook/internal/repository/user"
	"github.com/Yusufzhafir/go-limitbook/internal/router"
	"github.com/Yusufzhafir/go-limitbook/internal/router/middleware"
	"github.com/Yusufzhafir/go-limitbook/internal/settlement"
	"github.com/Yusufzhafir/go-limitbook/internal/usecase/order"
	"github.com/Yusufzhafir/go-limitbook/internal/usecase/user"
	"github.com/Yusufzhafir/go-limitbook/internal/websocket"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/Yusufzhafir/go-limitbook/pkg/util"
	"github.com/jmoiron/sqlx"
	tb "github.com/tigerbeetle/tigerbeetle-go"
	tbTypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.LogLevel, cfg.LogFile)
	} else {
		logger, err = util.NewLogger(cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(rootCtx context.Context, cfg config.Config, logger *zap.Logger) error {
	pair := cfg.Market.Pair()
	symbol := pair.Symbol()

	// the worker and hub outlive rootCtx until in-flight requests drain
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	var (
		sinks       []order.SettlementSink
		db          *sqlx.DB
		ledgerRepo  ledgerRepository.LedgerRepository
		orderRepo   orderRepository.OrderRepository
		tbClient    tb.Client
		userUseCase user.UserUseCase
		tokenMaker  *middleware.JWTMaker
	)

	if cfg.Database.Enabled() {
		var err error
		db, err = sqlx.Connect("postgres", cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting postgres: %w", err)
		}
		defer db.Close()
		ledgerRepo = ledgerRepository.NewLedgerRepository(db)
		orderRepo = orderRepository.NewOrderRepository(db)
	}

	if cfg.TigerBeetle.Enabled() {
		var err error
		tbClient, err = tb.NewClient(tbTypes.ToUint128(cfg.TigerBeetle.ClusterID), cfg.TigerBeetle.Addresses)
		if err != nil {
			return fmt.Errorf("tigerbeetle client init: %w", err)
		}
		defer tbClient.Close()

		if ledgerRepo != nil {
			sinks = append(sinks, settlement.NewTigerBeetleSink(tbClient, ledgerRepo, cfg.Market.Ledgers(), logger))
		} else {
			logger.Warn("tigerbeetle configured without a database; balances will not be posted")
		}
	}

	if db != nil {
		sinks = append(sinks, orderRepository.NewRecorder(db, orderRepo, symbol))

		var err error
		tokenMaker, err = middleware.NewJWTMaker(cfg.JWTSecret)
		if err != nil {
			return err
		}
		opts := user.UserUseCaseOpts{
			UserRepo:   userRepository.NewUserRepository(db),
			LedgerRepo: ledgerRepo,
			OrderRepo:  orderRepo,
			Db:         db,
			Logger:     logger,
		}
		if tbClient != nil {
			opts.TbClient = tbClient
		}
		userUseCase = user.NewUserUseCase(opts)
	}

	if cfg.Kafka.Enabled() {
		kafkaSink := settlement.NewKafkaSink(settlement.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), symbol)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}

	hub := websocket.NewHub(logger)
	go hub.Run(workerCtx)
	sinks = append(sinks, websocket.NewPublisher(hub, pair, cfg.Market.PriceScale))

	var engineOpts []engine.Option
	if orderRepo != nil {
		lastID, err := orderRepo.LastOrderID(rootCtx, symbol)
		if err != nil {
			return fmt.Errorf("reading last order id: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithLastOrderId(model.OrderId(lastID)))
		logger.Info("resuming order ids", zap.Uint64("last_id", lastID))
	}

	orderUseCase := order.NewOrderUseCase(order.OrderUseCaseOpts{
		OrderBookEngine: engine.NewOrderBookEngine(pair, engineOpts...),
		Sinks:           sinks,
		QueueSize:       cfg.QueueSize,
		Logger:          logger,
	})
	orderUseCase.RegisterTradeHandler(func(tr model.Trade) {
		logger.Info("trade",
			zap.String("symbol", symbol),
			zap.Uint64("maker", uint64(tr.MakerID)),
			zap.Uint64("taker", uint64(tr.TakerID)),
			zap.String("price", util.FormatPrice(int64(tr.Price), cfg.Market.PriceScale)),
			zap.Int64("qty", int64(tr.Quantity)),
		)
	})

	workerDone := make(chan error, 1)
	go func() { workerDone <- orderUseCase.Run(workerCtx) }()

	handler := router.NewHandler(router.BindRouterOpts{
		OrderUseCase: orderUseCase,
		DepthLevels:  cfg.Market.DepthLevels,
		TokenMaker:   tokenMaker,
		UserUseCase:  userUseCase,
		Hub:          hub,
		Logger:       logger,
	}, cfg.CORSOrigins)

	server := http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			zap.String("addr", server.Addr),
			zap.String("symbol", symbol),
			zap.Int("sinks", len(sinks)),
			zap.Bool("auth", tokenMaker != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("listen: %w", err)
	}

	// Give in-flight requests up to 10s to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed; forcing close", zap.Error(err))
		_ = server.Close()
	}

	stopWorker()
	<-workerDone
	logger.Info("server stopped")
	return nil
}
