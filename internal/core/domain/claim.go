package domain

import "time"

// Claim is a time-boxed hold on specific lots for one buyer.
// A buyer has at most one claim; a newer claim replaces the older one.
type Claim struct {
	BuyerID   int64
	Type      string
	Items     []Lot
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ActiveAt reports whether the claim is still valid at t.
func (c *Claim) ActiveAt(t time.Time) bool {
	return c != nil && t.Before(c.ExpiresAt)
}

func (c *Claim) Quantity() int {
	if c == nil {
		return 0
	}
	return len(c.Items)
}
