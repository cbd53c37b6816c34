package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/deferred-wallet/internal/config"
	"github.com/richardliu001/deferred-wallet/internal/service"
	"go.uber.org/zap"
)

// Services groups what the handlers call into.
type Services struct {
	Users        *service.UserService
	Wallets      *service.WalletService
	Transactions *service.TransactionService
}

func NewRouter(svc Services, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(v1, svc, log)
	return r
}

func RegisterHandlers(v1 *gin.RouterGroup, svc Services, log *zap.SugaredLogger) {
	users := v1.Group("/users")
	{
		users.GET("", listUsersHandler(svc.Users, log))
		users.POST("", createUserHandler(svc.Users, log))
		users.GET("/:id", getUserHandler(svc.Users, log))
		users.PUT("/:id", updateUserHandler(svc.Users, log))
		users.PATCH("/:id", updateUserHandler(svc.Users, log))
	}

	wallets := v1.Group("/wallets")
	{
		wallets.GET("", listWalletsHandler(svc.Wallets, log))
		wallets.POST("", createWalletHandler(svc.Wallets, log))
		wallets.GET("/:id", getWalletHandler(svc.Wallets, log))
		wallets.PUT("/:id", updateWalletHandler(svc.Wallets, log))
		wallets.PATCH("/:id", updateWalletHandler(svc.Wallets, log))
		wallets.GET("/:id/balance", balanceHandler(svc.Wallets, log))
	}

	txs := v1.Group("/transactions")
	{
		txs.GET("", listTransactionsHandler(svc.Transactions, log))
		txs.POST("", createTransactionHandler(svc.Transactions, log))
		txs.GET("/:id", getTransactionHandler(svc.Transactions, log))
	}
}
