package port

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-shop/internal/core/domain"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrLotsUnavailable     = errors.New("lots no longer in inventory")
	ErrUserNotFound        = errors.New("user not found")
)

type LedgerRepository interface {
	// RecordSale debits the buyer, removes the sold lots and writes the sell log in one transaction.
	// Returns ErrInsufficientBalance or ErrLotsUnavailable without side effects.
	RecordSale(ctx context.Context, sale domain.Sale) error
}

type UserRepository interface {
	GetUser(ctx context.Context, telegramID int64) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) error

	// TouchUser refreshes last visit and username
	TouchUser(ctx context.Context, who domain.Requester) error

	TopUp(ctx context.Context, telegramID int64, amount decimal.Decimal) (decimal.Decimal, error)
	SetBan(ctx context.Context, telegramID int64, banned bool) error
	History(ctx context.Context, telegramID int64, limit int) ([]domain.SellRecord, error)
}
