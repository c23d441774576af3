package port

import (
	"context"
	"time"

	"github.com/rl1809/lot-shop/internal/core/domain"
)

type ClaimStatus int

const (
	ClaimGranted ClaimStatus = iota
	ClaimInsufficient
	// ClaimRetry means enough stock exists but the candidate list was too short
	ClaimRetry
)

type ClaimRequest struct {
	BuyerID   int64
	Type      string
	Quantity  int
	Available int // authoritative unsold count for Type
	// Candidates in selection order; lots held by other buyers are skipped
	Candidates []domain.Lot
	Now        time.Time
	ExpiresAt  time.Time
}

type ClaimRepository interface {
	// Claim atomically checks effective stock and replaces the buyer's claim
	Claim(ctx context.Context, req ClaimRequest) (ClaimStatus, *domain.Claim, error)

	// Get returns the buyer's claim, or nil when absent or expired at now
	Get(ctx context.Context, buyerID int64, now time.Time) (*domain.Claim, error)

	// Release drops the buyer's claim, lots return to the pool
	Release(ctx context.Context, buyerID int64) error

	// ClaimedCounts returns the number of actively claimed lots per type
	ClaimedCounts(ctx context.Context, now time.Time) (map[string]int, error)

	// Sweep physically removes claim entries expired at now, returns removed lot entries
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Forget removes lots deleted from inventory from every claim's stock accounting
	Forget(ctx context.Context, lotIDs ...int64) (int, error)
}
