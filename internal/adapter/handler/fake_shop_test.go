package handler

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/core/service"
)

var testExpiry = time.Date(2024, 5, 1, 12, 10, 0, 0, time.UTC)

type fakeShop struct {
	reserve  service.ReserveResult
	confirm  service.ConfirmResult
	stock    []domain.StockLine
	err      error
	balance  decimal.Decimal
	restock  []domain.Lot
	released []int64
	lastReq  domain.Requester
}

func (f *fakeShop) Reserve(_ context.Context, _ int64, _ string, quantity int) (service.ReserveResult, error) {
	if quantity <= 0 || quantity > service.MaxReserveQuantity {
		return service.ReserveResult{}, service.ErrInvalidQuantity
	}
	return f.reserve, f.err
}

func (f *fakeShop) Confirm(_ context.Context, buyer domain.Requester) (service.ConfirmResult, error) {
	f.lastReq = buyer
	return f.confirm, f.err
}

func (f *fakeShop) Release(_ context.Context, buyerID int64) error {
	f.released = append(f.released, buyerID)
	return f.err
}

func (f *fakeShop) StockView(context.Context) ([]domain.StockLine, error) {
	return f.stock, f.err
}

func (f *fakeShop) Restock(_ context.Context, lots []domain.Lot) (int, error) {
	f.restock = append(f.restock, lots...)
	return len(lots), f.err
}

func (f *fakeShop) TopUp(_ context.Context, _ int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, service.ErrInvalidAmount
	}
	f.balance = f.balance.Add(amount)
	return f.balance, f.err
}

func goldClaim() *domain.Claim {
	return &domain.Claim{
		BuyerID: 1,
		Type:    "gold",
		Items: []domain.Lot{
			{ID: 10, Type: "gold", Price: decimal.NewFromInt(5)},
			{ID: 11, Type: "gold", Price: decimal.NewFromInt(5)},
		},
		ExpiresAt: testExpiry,
	}
}
