package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richardliu001/deferred-wallet/internal/model"
	"github.com/richardliu001/deferred-wallet/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type transactionResp struct {
	ID                uint64  `json:"id"`
	Wallet            string  `json:"wallet"`
	Amount            string  `json:"amount"`
	ScheduledTime     *int64  `json:"scheduled_time"`
	ExecutedTime      *int64  `json:"executed_time"`
	Method            string  `json:"method"`
	Status            string  `json:"status"`
	StatusDescription *string `json:"status_description"`
}

func toTransactionResp(t *model.Transaction) transactionResp {
	return transactionResp{
		ID:                t.ID,
		Wallet:            t.WalletID.String(),
		Amount:            t.Amount.StringFixed(2),
		ScheduledTime:     t.ScheduledTime,
		ExecutedTime:      t.ExecutedTime,
		Method:            t.Method.Label(),
		Status:            t.Status.Label(),
		StatusDescription: t.StatusDescription,
	}
}

// createTransactionReq accepts amount as a JSON number or string.
// The server-set fields are captured only to reject them; null counts as absent.
type createTransactionReq struct {
	Wallet        string           `json:"wallet" binding:"required"`
	Amount        *decimal.Decimal `json:"amount" binding:"required"`
	Method        string           `json:"method" binding:"required"`
	ScheduledTime *int64           `json:"scheduled_time"`

	ExecutedTime      json.RawMessage `json:"executed_time"`
	Status            json.RawMessage `json:"status"`
	StatusDescription json.RawMessage `json:"status_description"`
}

func (r *createTransactionReq) input() (service.CreateTransactionInput, error) {
	if present(r.ExecutedTime) || present(r.Status) || present(r.StatusDescription) {
		return service.CreateTransactionInput{}, errServerSetFields
	}
	wid, err := uuid.Parse(r.Wallet)
	if err != nil {
		return service.CreateTransactionInput{}, errors.New("invalid wallet")
	}
	return service.CreateTransactionInput{
		WalletID:      wid,
		Amount:        *r.Amount,
		Method:        model.Method(r.Method),
		ScheduledTime: r.ScheduledTime,
	}, nil
}

// present reports whether a JSON field was sent with a non-null value.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func listTransactionsHandler(svc *service.TransactionService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter *uuid.UUID
		if w := c.Query("wallet"); w != "" {
			id, err := uuid.Parse(w)
			if err != nil {
				badRequest(c, errors.New("invalid wallet"))
				return
			}
			filter = &id
		}
		txs, err := svc.List(c, filter)
		if err != nil {
			writeError(c, log, err)
			return
		}
		out := make([]transactionResp, 0, len(txs))
		for i := range txs {
			out = append(out, toTransactionResp(&txs[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}

// createTransactionHandler answers 201 with the stored resource. A deposit is
// already terminal in the response; a withdrawal is PENDING until its time.
func createTransactionHandler(svc *service.TransactionService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTransactionReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		in, err := req.input()
		if err != nil {
			badRequest(c, err)
			return
		}
		t, err := svc.Create(c, in)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, toTransactionResp(t))
	}
}

func getTransactionHandler(svc *service.TransactionService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			badRequest(c, errInvalidID)
			return
		}
		t, err := svc.Get(c, id)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, toTransactionResp(t))
	}
}
