package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	repository "github.com/Yusufzhafir/go-limitbook/internal/repository/user"
	"github.com/Yusufzhafir/go-limitbook/internal/router/middleware"
	"github.com/Yusufzhafir/go-limitbook/internal/usecase/user"
	"github.com/Yusufzhafir/go-limitbook/pkg/model"
)

const tokenTTL = 24 * time.Hour

type UserRouter interface {
	GetUser(w http.ResponseWriter, r *http.Request)
	GetUserOrderList(w http.ResponseWriter, r *http.Request)
	GetUserBalanceChanges(w http.ResponseWriter, r *http.Request)
	AddUserMoney(w http.ResponseWriter, r *http.Request)
	RegisterUser(w http.ResponseWriter, r *http.Request)
	LoginUser(w http.ResponseWriter, r *http.Request)
}

type userRouterImpl struct {
	usecase    user.UserUseCase
	tokenMaker *middleware.JWTMaker
}

func NewUserRouter(usecase user.UserUseCase, tokenMaker *middleware.JWTMaker) UserRouter {
	return &userRouterImpl{
		usecase:    usecase,
		tokenMaker: tokenMaker,
	}
}

type UserResponse struct {
	Id        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Username  string         `json:"username"`
	Balances  []user.Balance `json:"balances,omitempty"`
}

func (ur *userRouterImpl) GetUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errors.New("missing claims"))
		return
	}

	profile, err := ur.usecase.GetProfile(r.Context(), claims.UserId)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{
		Id:        strconv.FormatInt(profile.ID, 10),
		CreatedAt: profile.CreatedAt,
		Username:  profile.Username,
		Balances:  profile.Balances,
	})
}

// GET /api/v1/user/orders?active=true
func (ur *userRouterImpl) GetUserOrderList(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errors.New("missing claims"))
		return
	}
	onlyActive := r.URL.Query().Get("active") == "true"

	orders, err := ur.usecase.ListOrders(r.Context(), claims.UserId, onlyActive)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GET /api/v1/user/balance-changes?limit=N
func (ur *userRouterImpl) GetUserBalanceChanges(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errors.New("missing claims"))
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	changes, err := ur.usecase.ListBalanceChanges(r.Context(), claims.UserId, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (ur *userRouterImpl) AddUserMoney(w http.ResponseWriter, r *http.Request) {
	type DepositRequest struct {
		Currency model.Currency `json:"currency"`
		Amount   int64          `json:"amount"`
	}
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errors.New("missing claims"))
		return
	}
	req, err := decodeJSON[DepositRequest](w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if req.Amount <= 0 {
		writeJSONError(w, http.StatusBadRequest, errors.New("amount must be > 0"))
		return
	}

	if err := ur.usecase.Deposit(r.Context(), claims.UserId, req.Currency, req.Amount); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, user.ErrNoLedger) {
			status = http.StatusBadRequest
		}
		writeJSONError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

func (ur *userRouterImpl) RegisterUser(w http.ResponseWriter, r *http.Request) {
	type RegisterRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	req, err := decodeJSON[RegisterRequest](w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	userId, err := ur.usecase.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, user.ErrUsernameTaken) {
			status = http.StatusConflict
		}
		writeJSONError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{
		Id:        strconv.FormatInt(userId, 10),
		CreatedAt: time.Now(),
		Username:  req.Username,
	})
}

func (ur *userRouterImpl) LoginUser(w http.ResponseWriter, r *http.Request) {
	type LoginReq struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	type LoginRes struct {
		Token     string    `json:"token"`
		Id        string    `json:"id"`
		Username  string    `json:"username"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	req, err := decodeJSON[LoginReq](w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	u, err := ur.usecase.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrInvalidCredentials) {
			status = http.StatusUnauthorized
		}
		writeJSONError(w, status, err)
		return
	}

	newToken, newClaim, err := ur.tokenMaker.CreateToken(u.ID, u.Username, tokenTTL)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginRes{
		Token:     newToken,
		Id:        newClaim.ID,
		Username:  u.Username,
		ExpiresAt: newClaim.ExpiresAt.Time,
	})
}
