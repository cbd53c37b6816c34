package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/deferred-wallet/internal/model"
	"github.com/richardliu001/deferred-wallet/internal/service"
	"go.uber.org/zap"
)

type userResp struct {
	ID        uint64    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Wallet    string    `json:"wallet,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResp(u *model.User) userResp {
	return userResp{
		ID: u.ID, Username: u.Username, Email: u.Email,
		FirstName: u.FirstName, LastName: u.LastName, CreatedAt: u.CreatedAt,
	}
}

type createUserReq struct {
	Username  string `json:"username" binding:"required"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type updateUserReq struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

func listUsersHandler(svc *service.UserService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		us, err := svc.ListUsers(c)
		if err != nil {
			writeError(c, log, err)
			return
		}
		out := make([]userResp, 0, len(us))
		for i := range us {
			out = append(out, toUserResp(&us[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}

func createUserHandler(svc *service.UserService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUserReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		u, w, err := svc.CreateUser(c, service.UserInput{
			Username: req.Username, Email: req.Email, FirstName: req.FirstName, LastName: req.LastName,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		resp := toUserResp(u)
		resp.Wallet = w.ID.String()
		c.JSON(http.StatusCreated, resp)
	}
}

func getUserHandler(svc *service.UserService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			badRequest(c, errInvalidID)
			return
		}
		u, err := svc.GetUser(c, id)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, toUserResp(u))
	}
}

func updateUserHandler(svc *service.UserService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			badRequest(c, errInvalidID)
			return
		}
		var req updateUserReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		u, err := svc.UpdateUser(c, id, service.UserPatch{
			Username: req.Username, Email: req.Email, FirstName: req.FirstName, LastName: req.LastName,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, toUserResp(u))
	}
}
