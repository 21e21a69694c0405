package router

import (
	"errors"
	"net/http"

	"github.com/Yusufzhafir/go-limitbook/internal/router/middleware"
	"github.com/Yusufzhafir/go-limitbook/internal/usecase/order"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
)

type OrderRouter interface {
	Add(w http.ResponseWriter, r *http.Request)
	GetOrderBook(w http.ResponseWriter, r *http.Request)
	GetTopOfBook(w http.ResponseWriter, r *http.Request)
}

type orderRouterImpl struct {
	usecase      order.OrderUseCase
	depthLevels  int
	authRequired bool
}

func NewOrderRouter(usecase order.OrderUseCase, depthLevels int, authRequired bool) OrderRouter {
	return &orderRouterImpl{
		usecase:      usecase,
		depthLevels:  depthLevels,
		authRequired: authRequired,
	}
}

type AddOrderRequest struct {
	Side     model.Side     `json:"side"` // "BUY"/"SELL" or "BID"/"ASK"
	Price    model.Price    `json:"price"`
	Quantity model.Quantity `json:"quantity"`
	// Account is only honoured when the server runs without authentication.
	Account model.AccountId `json:"account,omitempty"`
}

type AddOrderResponse struct {
	OrderID        model.OrderId         `json:"orderId"`
	Status         string                `json:"status"` // "filled", "partial", "resting"
	Filled         model.Quantity        `json:"filled"`
	Rested         model.Quantity        `json:"rested"`
	Trades         []model.Trade         `json:"trades"`
	BalanceChanges []model.BalanceChange `json:"balanceChanges"`
}

func (or *orderRouterImpl) Add(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[AddOrderRequest](w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	account := req.Account
	if or.authRequired {
		claims, ok := middleware.ClaimsFrom(r.Context())
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, errors.New("missing claims"))
			return
		}
		account = model.AccountId(claims.UserId)
	}

	res, err := or.usecase.AddOrder(r.Context(), account, req.Side, req.Price, req.Quantity)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}

	status := "resting"
	switch {
	case res.Order.IsFilled():
		status = "filled"
	case len(res.Trades) > 0:
		status = "partial"
	}
	trades := res.Trades
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, AddOrderResponse{
		OrderID:        res.Order.GetId(),
		Status:         status,
		Filled:         res.FilledQuantity(),
		Rested:         res.RestedQuantity(),
		Trades:         trades,
		BalanceChanges: res.BalanceChanges(),
	})
}

// GET /api/v1/orderbook?depth=N
func (or *orderRouterImpl) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "depth", or.depthLevels)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, or.usecase.GetOrderInfos(r.Context(), depth))
}

func (or *orderRouterImpl) GetTopOfBook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, or.usecase.GetTopOfBook(r.Context()))
}
