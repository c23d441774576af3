package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/port"
)

const HistoryLimit = 20

var ErrInvalidAmount = errors.New("amount must be positive")

type Profile struct {
	User      domain.User
	Purchases []domain.SellRecord
}

// AccountService handles buyer accounts: registration, balance and bans.
type AccountService struct {
	users port.UserRepository
	log   zerolog.Logger
	now   func() time.Time
}

func NewAccountService(users port.UserRepository, log zerolog.Logger) *AccountService {
	return &AccountService{users: users, log: log, now: time.Now}
}

// Register creates the user on first contact and refreshes the last visit otherwise.
// It reports whether the user was created.
func (s *AccountService) Register(ctx context.Context, who domain.Requester) (bool, error) {
	existing, err := s.users.GetUser(ctx, who.ID)
	if err != nil {
		return false, storeErr("get user", err)
	}
	if existing != nil {
		if err := s.users.TouchUser(ctx, who); err != nil {
			return false, storeErr("touch user", err)
		}
		return false, nil
	}

	user := domain.User{
		TelegramID: who.ID,
		Name:       who.Name,
		Username:   who.Username,
		Balance:    decimal.Zero,
		Language:   domain.DefaultLanguage,
		LastVisit:  s.now(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return false, storeErr("create user", err)
	}
	s.log.Info().Int64("user", who.ID).Str("username", who.Username).Msg("new user registered")
	return true, nil
}

// Profile returns the user with the most recent purchases.
func (s *AccountService) Profile(ctx context.Context, telegramID int64) (*Profile, error) {
	user, err := s.users.GetUser(ctx, telegramID)
	if err != nil {
		return nil, storeErr("get user", err)
	}
	if user == nil {
		return nil, port.ErrUserNotFound
	}

	purchases, err := s.users.History(ctx, telegramID, HistoryLimit)
	if err != nil {
		return nil, storeErr("purchase history", err)
	}
	return &Profile{User: *user, Purchases: purchases}, nil
}

// TopUp credits the balance and returns the new value.
func (s *AccountService) TopUp(ctx context.Context, telegramID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	balance, err := s.users.TopUp(ctx, telegramID, amount)
	if errors.Is(err, port.ErrUserNotFound) {
		return decimal.Zero, err
	}
	if err != nil {
		return decimal.Zero, storeErr("top up", err)
	}
	s.log.Info().Int64("user", telegramID).Stringer("amount", amount).Stringer("balance", balance).Msg("balance topped up")
	return balance, nil
}

func (s *AccountService) SetBan(ctx context.Context, telegramID int64, banned bool) error {
	err := s.users.SetBan(ctx, telegramID, banned)
	if errors.Is(err, port.ErrUserNotFound) {
		return err
	}
	if err != nil {
		return storeErr("set ban", err)
	}
	s.log.Info().Int64("user", telegramID).Bool("banned", banned).Msg("ban updated")
	return nil
}

// IsBanned is false for unknown users.
func (s *AccountService) IsBanned(ctx context.Context, telegramID int64) (bool, error) {
	user, err := s.users.GetUser(ctx, telegramID)
	if err != nil {
		return false, storeErr("get user", err)
	}
	return user != nil && user.IsBanned, nil
}
