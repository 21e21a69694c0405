package router

import (
	"net/http"

	"github.com/Yusufzhafir/go-limitbook/internal/router/middleware"
	"github.com/Yusufzhafir/go-limitbook/internal/usecase/order"
	"github.com/Yusufzhafir/go-limitbook/internal/usecase/user"
	"github.com/Yusufzhafir/go-limitbook/internal/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Cors wraps the whole mux; preflight requests never reach the routes.
func Cors(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         86400,
	})
	return c.Handler
}

func bindOrder(serverRouter *http.ServeMux, opts BindRouterOpts) {
	logging := middleware.Logging(opts.Logger)
	orderRouter := NewOrderRouter(opts.OrderUseCase, opts.DepthLevels, opts.TokenMaker != nil)

	add := logging(http.HandlerFunc(orderRouter.Add))
	if opts.TokenMaker != nil {
		add = logging(middleware.AuthMiddleware(opts.TokenMaker)(http.HandlerFunc(orderRouter.Add)))
	}
	serverRouter.Handle("POST /api/v1/order", add)
	serverRouter.Handle("GET /api/v1/orderbook", logging(http.HandlerFunc(orderRouter.GetOrderBook)))
	serverRouter.Handle("GET /api/v1/orderbook/top", logging(http.HandlerFunc(orderRouter.GetTopOfBook)))
}

func bindUser(serverRouter *http.ServeMux, opts BindRouterOpts) {
	logging := middleware.Logging(opts.Logger)
	authmiddleware := middleware.AuthMiddleware(opts.TokenMaker)
	userRouter := NewUserRouter(opts.UserUseCase, opts.TokenMaker)
	serverRouter.Handle("GET /api/v1/user/{$}", logging(authmiddleware(http.HandlerFunc(userRouter.GetUser))))
	serverRouter.Handle("GET /api/v1/user/orders", logging(authmiddleware(http.HandlerFunc(userRouter.GetUserOrderList))))
	serverRouter.Handle("GET /api/v1/user/balance-changes", logging(authmiddleware(http.HandlerFunc(userRouter.GetUserBalanceChanges))))
	serverRouter.Handle("POST /api/v1/user/deposit", logging(authmiddleware(http.HandlerFunc(userRouter.AddUserMoney))))
	serverRouter.Handle("POST /api/v1/user/register", logging(http.HandlerFunc(userRouter.RegisterUser)))
	serverRouter.Handle("POST /api/v1/user/login", logging(http.HandlerFunc(userRouter.LoginUser)))
}

type BindRouterOpts struct {
	ServerRouter *http.ServeMux
	OrderUseCase order.OrderUseCase
	DepthLevels  int
	// TokenMaker and UserUseCase are nil when no database is configured;
	// user routes are then not bound and orders carry their own account.
	TokenMaker  *middleware.JWTMaker
	UserUseCase user.UserUseCase
	Hub         *websocket.Hub
	Logger      *zap.Logger
}

func BindRouter(opts BindRouterOpts) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	bindOrder(opts.ServerRouter, opts)
	if opts.UserUseCase != nil && opts.TokenMaker != nil {
		bindUser(opts.ServerRouter, opts)
	}
	if opts.Hub != nil {
		// not wrapped: the upgrade needs the raw ResponseWriter
		opts.ServerRouter.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(opts.Hub, w, r)
		})
	}

	//healthcheck
	opts.ServerRouter.Handle("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": 200,
			"health": "healthy",
			"symbol": opts.OrderUseCase.Pair().Symbol(),
		})
	}))
}

// NewHandler binds every route and wraps the mux with the shared middleware.
func NewHandler(opts BindRouterOpts, corsOrigins []string) http.Handler {
	if opts.ServerRouter == nil {
		opts.ServerRouter = http.NewServeMux()
	}
	BindRouter(opts)
	return middleware.RequestID(Cors(corsOrigins)(opts.ServerRouter))
}
