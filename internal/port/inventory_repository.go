package port

import (
	"context"

	"github.com/rl1809/lot-shop/internal/core/domain"
)

type InventoryRepository interface {
	// CountAvailable returns the authoritative number of unsold lots of a type
	CountAvailable(ctx context.Context, lotType string) (int, error)

	// ListAvailable returns unsold lots ordered by price then id, limit <= 0 means no limit
	ListAvailable(ctx context.Context, lotType string, limit int) ([]domain.Lot, error)

	// Remove deletes lots outside of a sale (admin action)
	Remove(ctx context.Context, ids ...int64) (int, error)

	// Summary returns per-type authoritative counts with the cheapest price
	Summary(ctx context.Context) ([]domain.StockLine, error)

	// AddLots stocks new lots, duplicates by content are skipped
	AddLots(ctx context.Context, lots []domain.Lot) (int, error)
}
