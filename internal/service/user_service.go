package service

import (
	"context"
	"errors"
	"strings"

	"github.com/richardliu001/deferred-wallet/internal/model"
	"github.com/richardliu001/deferred-wallet/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type UserInput struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
}

// UserPatch carries the fields to change; nil means keep.
type UserPatch struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
}

type UserService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

func NewUserService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *UserService {
	return &UserService{repo: r, log: logger}
}

// CreateUser stores the user and provisions its wallet in one DB transaction.
func (s *UserService) CreateUser(ctx context.Context, in UserInput) (*model.User, *model.Wallet, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return nil, nil, ErrInvalidUser
	}
	if err := s.usernameFree(ctx, in.Username, 0); err != nil {
		return nil, nil, err
	}
	u := &model.User{Username: in.Username, Email: in.Email, FirstName: in.FirstName, LastName: in.LastName}
	var w *model.Wallet
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CreateUser(ctx, tx, u); err != nil {
			return err
		}
		w = &model.Wallet{OwnerID: u.ID, Balance: decimal.Zero}
		return s.repo.CreateWallet(ctx, tx, w)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, nil, ErrUserExists
		}
		return nil, nil, err
	}
	s.log.Infow("user provisioned", "user_id", u.ID, "wallet", w.ID)
	return u, w, nil
}

func (s *UserService) GetUser(ctx context.Context, id uint64) (*model.User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return u, nil
}

func (s *UserService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

func (s *UserService) UpdateUser(ctx context.Context, id uint64, p UserPatch) (*model.User, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Username != nil {
		name := strings.TrimSpace(*p.Username)
		if name == "" {
			return nil, ErrInvalidUser
		}
		if err := s.usernameFree(ctx, name, u.ID); err != nil {
			return nil, err
		}
		u.Username = name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if err := s.repo.SaveUser(ctx, u); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

// usernameFree reports ErrUserExists when another user already has name.
func (s *UserService) usernameFree(ctx context.Context, name string, self uint64) error {
	other, err := s.repo.GetUserByUsername(ctx, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if other.ID != self {
		return ErrUserExists
	}
	return nil
}
