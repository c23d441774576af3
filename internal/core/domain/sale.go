package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Sale struct {
	ID        string
	Buyer     Requester
	Type      string
	Items     []Lot
	Total     decimal.Decimal
	CreatedAt time.Time
}

// SellRecord is one row of a buyer's purchase history.
type SellRecord struct {
	SaleID string
	Time   time.Time
	Type   string
	LotID  int64
	Price  decimal.Decimal
}
