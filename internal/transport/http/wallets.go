package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richardliu001/deferred-wallet/internal/model"
	"github.com/richardliu001/deferred-wallet/internal/service"
	"go.uber.org/zap"
)

type walletResp struct {
	ID        string    `json:"uuid"`
	Owner     uint64    `json:"owner"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toWalletResp(w *model.Wallet) walletResp {
	return walletResp{
		ID: w.ID.String(), Owner: w.OwnerID, Balance: w.Balance.StringFixed(2),
		CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt,
	}
}

type walletReq struct {
	Owner   uint64          `json:"owner" binding:"required"`
	Balance json.RawMessage `json:"balance"`
}

func walletID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, errInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func listWalletsHandler(svc *service.WalletService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := svc.ListWallets(c)
		if err != nil {
			writeError(c, log, err)
			return
		}
		out := make([]walletResp, 0, len(ws))
		for i := range ws {
			out = append(out, toWalletResp(&ws[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}

func createWalletHandler(svc *service.WalletService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req walletReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if present(req.Balance) {
			badRequest(c, errBalanceReadOnly)
			return
		}
		w, err := svc.CreateWallet(c, req.Owner)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, toWalletResp(w))
	}
}

func getWalletHandler(svc *service.WalletService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := walletID(c)
		if !ok {
			return
		}
		w, err := svc.GetWallet(c, id)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, toWalletResp(w))
	}
}

// updateWalletHandler only reassigns the owner.
func updateWalletHandler(svc *service.WalletService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := walletID(c)
		if !ok {
			return
		}
		var req walletReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if present(req.Balance) {
			badRequest(c, errBalanceReadOnly)
			return
		}
		w, err := svc.ChangeOwner(c, id, req.Owner)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, toWalletResp(w))
	}
}

func balanceHandler(svc *service.WalletService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := walletID(c)
		if !ok {
			return
		}
		bal, err := svc.GetBalance(c, id)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"uuid": id.String(), "balance": bal.StringFixed(2)})
	}
}
