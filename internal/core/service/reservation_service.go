package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/metrics"
	"github.com/rl1809/lot-shop/internal/port"
)

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidLot       = errors.New("invalid lot")
)

const (
	MaxReserveQuantity = 20

	// extra candidates fetched beyond the lots already claimed by others
	candidateSlack = 8
)

type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeInsufficientStock
	OutcomeNoActiveClaim
	OutcomeInsufficientBalance
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeInsufficientStock:
		return "insufficient_stock"
	case OutcomeNoActiveClaim:
		return "no_active_claim"
	case OutcomeInsufficientBalance:
		return "insufficient_balance"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type ReserveResult struct {
	Outcome Outcome
	Claim   *domain.Claim
}

type ConfirmResult struct {
	Outcome Outcome
	Sale    *domain.Sale
	// Claim is still held when the balance was insufficient
	Claim *domain.Claim
}

type ReservationService struct {
	inventory port.InventoryRepository
	ledger    port.LedgerRepository
	claims    port.ClaimRepository
	notifier  port.Notifier
	events    port.EventPublisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*ReservationService)

func WithClock(now func() time.Time) Option {
	return func(s *ReservationService) { s.now = now }
}

func WithNotifier(n port.Notifier) Option {
	return func(s *ReservationService) { s.notifier = n }
}

func WithEventPublisher(p port.EventPublisher) Option {
	return func(s *ReservationService) { s.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ReservationService) { s.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *ReservationService) { s.log = log }
}

func NewReservationService(
	inventory port.InventoryRepository,
	ledger port.LedgerRepository,
	claims port.ClaimRepository,
	ttl time.Duration,
	opts ...Option,
) *ReservationService {
	s := &ReservationService{
		inventory: inventory,
		ledger:    ledger,
		claims:    claims,
		log:       zerolog.Nop(),
		ttl:       ttl,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve claims quantity lots of lotType for the buyer until now+TTL.
//
// Latest claim replaces prior: on success any earlier claim of the buyer, of any type,
// is dropped and its lots return to the pool. On InsufficientStock the earlier claim is kept.
func (s *ReservationService) Reserve(ctx context.Context, buyerID int64, lotType string, quantity int) (ReserveResult, error) {
	if quantity <= 0 || quantity > MaxReserveQuantity {
		return ReserveResult{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	now := s.now()

	total, err := s.countAvailable(ctx, lotType)
	if err != nil {
		return ReserveResult{}, err
	}
	if total < quantity {
		return s.reserved(buyerID, lotType, ReserveResult{Outcome: OutcomeInsufficientStock}), nil
	}

	claimed, err := s.claimedCounts(ctx, now)
	if err != nil {
		return ReserveResult{}, err
	}

	limit := quantity + claimed[lotType] + candidateSlack
	for attempt := 0; attempt < 2; attempt++ {
		candidates, err := s.listAvailable(ctx, lotType, limit)
		if err != nil {
			return ReserveResult{}, err
		}

		start := time.Now()
		status, claim, err := s.claims.Claim(ctx, port.ClaimRequest{
			BuyerID:    buyerID,
			Type:       lotType,
			Quantity:   quantity,
			Available:  total,
			Candidates: candidates,
			Now:        now,
			ExpiresAt:  now.Add(s.ttl),
		})
		s.observe("claim", start)
		if err != nil {
			return ReserveResult{}, storeErr("claim lots", err)
		}

		switch status {
		case port.ClaimGranted:
			return s.reserved(buyerID, lotType, ReserveResult{Outcome: OutcomeOK, Claim: claim}), nil
		case port.ClaimInsufficient:
			return s.reserved(buyerID, lotType, ReserveResult{Outcome: OutcomeInsufficientStock}), nil
		case port.ClaimRetry:
			// window too narrow for the lots claimed by others, retry with every candidate
			limit = 0
		}
	}

	// the full candidate list was still short: lots vanished concurrently
	return s.reserved(buyerID, lotType, ReserveResult{Outcome: OutcomeInsufficientStock}), nil
}

func (s *ReservationService) reserved(buyerID int64, lotType string, res ReserveResult) ReserveResult {
	if s.metrics != nil {
		s.metrics.Reservations.WithLabelValues(res.Outcome.String()).Inc()
	}
	ev := s.log.Info().Int64("buyer", buyerID).Str("type", lotType).Stringer("outcome", res.Outcome)
	if res.Claim != nil {
		ev = ev.Ints64("lots", domain.LotIDs(res.Claim.Items)).Time("expires_at", res.Claim.ExpiresAt)
	}
	ev.Msg("reserve")
	return res
}

// Confirm purchases the buyer's claimed lots. The balance debit, removal from inventory
// and sell log happen in one ledger transaction. An insufficient balance leaves the claim
// in place until its original expiry.
func (s *ReservationService) Confirm(ctx context.Context, buyer domain.Requester) (ConfirmResult, error) {
	now := s.now()

	claim, err := s.getClaim(ctx, buyer.ID, now)
	if err != nil {
		return ConfirmResult{}, err
	}
	if claim == nil {
		return s.confirmed(buyer.ID, ConfirmResult{Outcome: OutcomeNoActiveClaim}), nil
	}

	sale := domain.Sale{
		ID:        uuid.NewString(),
		Buyer:     buyer,
		Type:      claim.Type,
		Items:     claim.Items,
		Total:     domain.TotalPrice(claim.Items),
		CreatedAt: now,
	}

	start := time.Now()
	err = s.ledger.RecordSale(ctx, sale)
	s.observe("record_sale", start)
	switch {
	case errors.Is(err, port.ErrInsufficientBalance), errors.Is(err, port.ErrUserNotFound):
		return s.confirmed(buyer.ID, ConfirmResult{Outcome: OutcomeInsufficientBalance, Claim: claim}), nil
	case errors.Is(err, port.ErrLotsUnavailable):
		s.log.Warn().Int64("buyer", buyer.ID).Ints64("lots", domain.LotIDs(claim.Items)).
			Msg("claimed lots left inventory before confirm, dropping claim")
		if err := s.claims.Release(ctx, buyer.ID); err != nil {
			return ConfirmResult{}, storeErr("release claim", err)
		}
		return s.confirmed(buyer.ID, ConfirmResult{Outcome: OutcomeNoActiveClaim}), nil
	case err != nil:
		return ConfirmResult{}, storeErr("record sale", err)
	}

	if err := s.claims.Release(ctx, buyer.ID); err != nil {
		// the lots are already gone from inventory, the stale claim lapses with its TTL
		s.log.Error().Err(err).Int64("buyer", buyer.ID).Str("sale", sale.ID).Msg("failed to release claim after sale")
	}

	if s.notifier != nil {
		if err := s.notifier.DeliverSale(ctx, sale); err != nil {
			s.log.Error().Err(err).Int64("buyer", buyer.ID).Str("sale", sale.ID).Msg("failed to deliver sale")
		}
	}
	if s.events != nil {
		if err := s.events.PublishSale(ctx, sale); err != nil {
			s.log.Error().Err(err).Str("sale", sale.ID).Msg("failed to publish sale event")
		}
	}

	return s.confirmed(buyer.ID, ConfirmResult{Outcome: OutcomeOK, Sale: &sale}), nil
}

func (s *ReservationService) confirmed(buyerID int64, res ConfirmResult) ConfirmResult {
	if s.metrics != nil {
		s.metrics.Confirmations.WithLabelValues(res.Outcome.String()).Inc()
	}
	ev := s.log.Info().Int64("buyer", buyerID).Stringer("outcome", res.Outcome)
	if res.Sale != nil {
		ev = ev.Str("sale", res.Sale.ID).Stringer("total", res.Sale.Total)
	}
	ev.Msg("confirm")
	return res
}

// Release cancels the buyer's claim. Releasing without a claim is a no-op.
func (s *ReservationService) Release(ctx context.Context, buyerID int64) error {
	start := time.Now()
	err := s.claims.Release(ctx, buyerID)
	s.observe("release", start)
	if err != nil {
		return storeErr("release claim", err)
	}
	s.log.Info().Int64("buyer", buyerID).Msg("release")
	return nil
}

// Sweep removes claim entries that expired at or before now.
func (s *ReservationService) Sweep(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	removed, err := s.claims.Sweep(ctx, now)
	s.observe("sweep", start)
	if err != nil {
		return 0, storeErr("sweep claims", err)
	}
	if s.metrics != nil {
		s.metrics.ClaimsSwept.Add(float64(removed))
	}
	return removed, nil
}

// EffectiveStock is the authoritative count minus lots held by active claims.
func (s *ReservationService) EffectiveStock(ctx context.Context, lotType string) (int, error) {
	now := s.now()

	total, err := s.countAvailable(ctx, lotType)
	if err != nil {
		return 0, err
	}
	claimed, err := s.claimedCounts(ctx, now)
	if err != nil {
		return 0, err
	}
	return max(total-claimed[lotType], 0), nil
}

// StockView lists every stocked type with its effective availability.
func (s *ReservationService) StockView(ctx context.Context) ([]domain.StockLine, error) {
	now := s.now()

	start := time.Now()
	lines, err := s.inventory.Summary(ctx)
	s.observe("summary", start)
	if err != nil {
		return nil, storeErr("stock summary", err)
	}
	claimed, err := s.claimedCounts(ctx, now)
	if err != nil {
		return nil, err
	}

	for i := range lines {
		lines[i].Available = max(lines[i].Available-claimed[lines[i].Type], 0)
	}
	return lines, nil
}

// ActiveClaim returns the buyer's unexpired claim, nil when there is none.
func (s *ReservationService) ActiveClaim(ctx context.Context, buyerID int64) (*domain.Claim, error) {
	return s.getClaim(ctx, buyerID, s.now())
}

// Restock adds lots to inventory and returns how many were new.
func (s *ReservationService) Restock(ctx context.Context, lots []domain.Lot) (int, error) {
	for _, l := range lots {
		if l.Type == "" || len(l.Type) > domain.MaxTypeLength {
			return 0, fmt.Errorf("%w: type %q must be 1 to %d bytes", ErrInvalidLot, l.Type, domain.MaxTypeLength)
		}
	}

	added, err := s.inventory.AddLots(ctx, lots)
	if err != nil {
		return 0, storeErr("add lots", err)
	}
	s.log.Info().Int("offered", len(lots)).Int("added", added).Msg("restock")
	return added, nil
}

// RemoveLots deletes lots by id and stops counting them as claimed, so effective
// stock of their type stays exact. A claim holding a removed lot fails on confirm.
func (s *ReservationService) RemoveLots(ctx context.Context, ids ...int64) (int, error) {
	removed, err := s.inventory.Remove(ctx, ids...)
	if err != nil {
		return 0, storeErr("remove lots", err)
	}

	start := time.Now()
	forgotten, err := s.claims.Forget(ctx, ids...)
	s.observe("forget", start)
	if err != nil {
		return removed, storeErr("forget removed lots", err)
	}
	s.log.Info().Ints64("lots", ids).Int("removed", removed).Int("unclaimed", forgotten).Msg("remove lots")
	return removed, nil
}

func (s *ReservationService) countAvailable(ctx context.Context, lotType string) (int, error) {
	start := time.Now()
	total, err := s.inventory.CountAvailable(ctx, lotType)
	s.observe("count_available", start)
	if err != nil {
		return 0, storeErr("count available", err)
	}
	return total, nil
}

func (s *ReservationService) listAvailable(ctx context.Context, lotType string, limit int) ([]domain.Lot, error) {
	start := time.Now()
	lots, err := s.inventory.ListAvailable(ctx, lotType, limit)
	s.observe("list_available", start)
	if err != nil {
		return nil, storeErr("list available", err)
	}
	return lots, nil
}

func (s *ReservationService) claimedCounts(ctx context.Context, now time.Time) (map[string]int, error) {
	start := time.Now()
	counts, err := s.claims.ClaimedCounts(ctx, now)
	s.observe("claimed_counts", start)
	if err != nil {
		return nil, storeErr("claimed counts", err)
	}
	return counts, nil
}

func (s *ReservationService) getClaim(ctx context.Context, buyerID int64, now time.Time) (*domain.Claim, error) {
	start := time.Now()
	claim, err := s.claims.Get(ctx, buyerID, now)
	s.observe("get_claim", start)
	if err != nil {
		return nil, storeErr("get claim", err)
	}
	return claim, nil
}

func (s *ReservationService) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveSince(op, start)
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
