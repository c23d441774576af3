package port

import (
	"context"

	"github.com/rl1809/lot-shop/internal/core/domain"
)

type Notifier interface {
	// DeliverSale sends the purchased content to the buyer
	DeliverSale(ctx context.Context, sale domain.Sale) error
}

type EventPublisher interface {
	PublishSale(ctx context.Context, sale domain.Sale) error
}
