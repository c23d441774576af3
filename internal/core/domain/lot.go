package domain

import "github.com/shopspring/decimal"

// MaxTypeLength bounds a lot type in bytes so "buy_"+type fits Telegram's 64 byte callback data.
const MaxTypeLength = 60

// Lot is a single unit of digital inventory. Content is immutable once stocked.
type Lot struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Format  string          `json:"format"`
	Price   decimal.Decimal `json:"price"`
	Content string          `json:"content"`
	AddedBy string          `json:"added_by,omitempty"`
}

type StockLine struct {
	Type      string
	MinPrice  decimal.Decimal
	Available int
}

// TotalPrice sums the prices of lots.
func TotalPrice(lots []Lot) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lots {
		total = total.Add(l.Price)
	}
	return total
}

func LotIDs(lots []Lot) []int64 {
	ids := make([]int64, len(lots))
	for i, l := range lots {
		ids[i] = l.ID
	}
	return ids
}
