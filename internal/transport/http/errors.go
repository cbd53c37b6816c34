package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/deferred-wallet/internal/service"
	"go.uber.org/zap"
)

var (
	errInvalidID       = errors.New("invalid id")
	errServerSetFields = fmt.Errorf("%w: executed_time, status and status_description are set by the server", service.ErrReadOnlyField)
	errBalanceReadOnly = fmt.Errorf("%w: balance changes only through transactions", service.ErrReadOnlyField)
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidMethod),
		errors.Is(err, service.ErrScheduledTimeInPast),
		errors.Is(err, service.ErrInvalidUser),
		errors.Is(err, service.ErrReadOnlyField):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrWalletNotFound),
		errors.Is(err, service.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUserExists),
		errors.Is(err, service.ErrWalletExists),
		errors.Is(err, service.ErrAlreadyExecuted),
		errors.Is(err, service.ErrNotPending):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError maps service errors to a status; unexpected ones are logged and hidden.
func writeError(c *gin.Context, log *zap.SugaredLogger, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Errorw("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(code, gin.H{"error": "internal error"})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
