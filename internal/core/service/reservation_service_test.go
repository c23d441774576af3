package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/metrics"
)

const testTTL = 5 * time.Minute

type fixture struct {
	svc      *ReservationService
	shop     *memoryShop
	clock    *testClock
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	claims, _ := setupClaims(t)
	shop := newMemoryShop()
	clock := newTestClock()
	notifier := &recordingNotifier{}
	m := metrics.New(prometheus.NewRegistry())

	svc := NewReservationService(shop, shop, claims, testTTL,
		WithClock(clock.Now),
		WithNotifier(notifier),
		WithMetrics(m),
	)
	return &fixture{svc: svc, shop: shop, clock: clock, notifier: notifier, metrics: m}
}

func TestReserve_LastUnitsGoToFirstBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.shop.stock("gold", 3, "5")

	resA, err := f.svc.Reserve(ctx, 1, "gold", 3)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, resA.Outcome)
	assert.ElementsMatch(t, ids, domain.LotIDs(resA.Claim.Items))

	resB, err := f.svc.Reserve(ctx, 2, "gold", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInsufficientStock, resB.Outcome)
	assert.Nil(t, resB.Claim)

	require.NoError(t, f.svc.Release(ctx, 1))

	resB, err = f.svc.Reserve(ctx, 2, "gold", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, resB.Outcome)
	assert.Len(t, resB.Claim.Items, 1)
}

func TestReserve_ExpiredClaimIgnoredBeforeSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("silver", 2, "3")

	resA, err := f.svc.Reserve(ctx, 1, "silver", 2)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, resA.Outcome)

	stock, err := f.svc.EffectiveStock(ctx, "silver")
	require.NoError(t, err)
	assert.Equal(t, 0, stock)

	f.clock.Advance(testTTL + time.Minute)

	stock, err = f.svc.EffectiveStock(ctx, "silver")
	require.NoError(t, err)
	assert.Equal(t, 2, stock)

	resB, err := f.svc.Reserve(ctx, 2, "silver", 2)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, resB.Outcome)
	assert.ElementsMatch(t, domain.LotIDs(resA.Claim.Items), domain.LotIDs(resB.Claim.Items))

	claim, err := f.svc.ActiveClaim(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, claim)
}

func TestConfirm_InsufficientBalanceKeepsClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("bronze", 1, "10")
	f.shop.addUser(1, "5")
	buyer := domain.Requester{ID: 1, Username: "alice"}

	res, err := f.svc.Reserve(ctx, 1, "bronze", 1)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, res.Outcome)

	first, err := f.svc.Confirm(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInsufficientBalance, first.Outcome)
	require.NotNil(t, first.Claim)

	f.clock.Advance(time.Minute)

	second, err := f.svc.Confirm(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInsufficientBalance, second.Outcome)
	require.NotNil(t, second.Claim)
	assert.Equal(t, domain.LotIDs(first.Claim.Items), domain.LotIDs(second.Claim.Items))
	assert.True(t, f.shop.balance(1).Equal(decimal.NewFromInt(5)))
	assert.Empty(t, f.notifier.sales)
}

func TestConfirm_WithoutReserve(t *testing.T) {
	f := newFixture(t)
	f.shop.addUser(1, "100")

	res, err := f.svc.Confirm(context.Background(), domain.Requester{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoActiveClaim, res.Outcome)
	assert.Nil(t, res.Sale)
}

func TestConfirm_AfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("gold", 1, "5")
	f.shop.addUser(1, "100")

	_, err := f.svc.Reserve(ctx, 1, "gold", 1)
	require.NoError(t, err)

	f.clock.Advance(testTTL)

	res, err := f.svc.Confirm(ctx, domain.Requester{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoActiveClaim, res.Outcome)
	assert.True(t, f.shop.balance(1).Equal(decimal.NewFromInt(100)))
}

func TestConfirm_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("gold", 3, "5")
	f.shop.addUser(1, "12")
	buyer := domain.Requester{ID: 1, Username: "alice", Name: "Alice"}

	_, err := f.svc.Reserve(ctx, 1, "gold", 2)
	require.NoError(t, err)

	res, err := f.svc.Confirm(ctx, buyer)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, res.Outcome)
	require.NotNil(t, res.Sale)

	assert.NotEmpty(t, res.Sale.ID)
	assert.Equal(t, buyer, res.Sale.Buyer)
	assert.Equal(t, "gold", res.Sale.Type)
	assert.Len(t, res.Sale.Items, 2)
	assert.True(t, res.Sale.Total.Equal(decimal.NewFromInt(10)))
	assert.True(t, f.shop.balance(1).Equal(decimal.NewFromInt(2)))

	claim, err := f.svc.ActiveClaim(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, claim)

	stock, err := f.svc.EffectiveStock(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, 1, stock)

	require.Len(t, f.notifier.sales, 1)
	assert.Equal(t, res.Sale.ID, f.notifier.sales[0].ID)

	again, err := f.svc.Confirm(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoActiveClaim, again.Outcome)
}

func TestConfirm_DeliveryFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("gold", 1, "5")
	f.shop.addUser(1, "5")
	f.notifier.err = errBackendDown

	_, err := f.svc.Reserve(ctx, 1, "gold", 1)
	require.NoError(t, err)

	res, err := f.svc.Confirm(ctx, domain.Requester{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.True(t, f.shop.balance(1).IsZero())
}

func TestConfirm_LotsRemovedMeanwhile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.shop.stock("gold", 2, "5")
	f.shop.addUser(1, "100")

	_, err := f.svc.Reserve(ctx, 1, "gold", 2)
	require.NoError(t, err)

	removed, err := f.svc.RemoveLots(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	res, err := f.svc.Confirm(ctx, domain.Requester{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoActiveClaim, res.Outcome)

	claim, err := f.svc.ActiveClaim(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, claim)
	assert.True(t, f.shop.balance(1).Equal(decimal.NewFromInt(100)))
}

func TestRemoveLots_ClaimedLotsStopCountingAsHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("gold", 5, "5")
	f.shop.addUser(1, "100")

	resA, err := f.svc.Reserve(ctx, 1, "gold", 2)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, resA.Outcome)

	removed, err := f.svc.RemoveLots(ctx, domain.LotIDs(resA.Claim.Items)...)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stock, err := f.svc.EffectiveStock(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, 3, stock)

	resB, err := f.svc.Reserve(ctx, 2, "gold", 3)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, resB.Outcome)
	assert.Len(t, resB.Claim.Items, 3)

	// buyer 1 still sees a claim record but cannot buy removed lots
	res, err := f.svc.Confirm(ctx, domain.Requester{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoActiveClaim, res.Outcome)

	stock, err = f.svc.EffectiveStock(ctx, "gold")
	require.NoError(t, err)
	assert.Zero(t, stock)
}

func TestReserve_ReleaseRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("gold", 5, "5")

	_, err := f.svc.Reserve(ctx, 1, "gold", 4)
	require.NoError(t, err)

	stock, err := f.svc.EffectiveStock(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, 1, stock)

	require.NoError(t, f.svc.Release(ctx, 1))

	stock, err = f.svc.EffectiveStock(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, 5, stock)
}

func TestRelease_WithoutClaim(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.svc.Release(context.Background(), 42))
}

func TestReserve_LatestClaimReplacesPrior(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("gold", 3, "5")
	f.shop.stock("silver", 3, "2")

	_, err := f.svc.Reserve(ctx, 1, "gold", 2)
	require.NoError(t, err)

	res, err := f.svc.Reserve(ctx, 1, "silver", 1)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, res.Outcome)

	gold, err := f.svc.EffectiveStock(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, 3, gold)

	claim, err := f.svc.ActiveClaim(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, "silver", claim.Type)
	assert.Equal(t, 1, claim.Quantity())
}

func TestReserve_OwnClaimCountsAsFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("gold", 3, "5")

	_, err := f.svc.Reserve(ctx, 1, "gold", 2)
	require.NoError(t, err)

	res, err := f.svc.Reserve(ctx, 1, "gold", 3)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, res.Outcome)
	assert.Len(t, res.Claim.Items, 3)
}

func TestReserve_FailureKeepsPriorClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("gold", 3, "5")
	f.shop.stock("silver", 1, "2")

	_, err := f.svc.Reserve(ctx, 1, "gold", 2)
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, 2, "silver", 1)
	require.NoError(t, err)

	res, err := f.svc.Reserve(ctx, 1, "silver", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInsufficientStock, res.Outcome)

	res, err = f.svc.Reserve(ctx, 1, "gold", 4)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInsufficientStock, res.Outcome)

	claim, err := f.svc.ActiveClaim(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, "gold", claim.Type)
	assert.Equal(t, 2, claim.Quantity())
}

func TestReserve_InvalidQuantity(t *testing.T) {
	f := newFixture(t)
	f.shop.stock("gold", 30, "5")

	for _, qty := range []int{0, -1, MaxReserveQuantity + 1} {
		_, err := f.svc.Reserve(context.Background(), 1, "gold", qty)
		assert.ErrorIs(t, err, ErrInvalidQuantity, "quantity %d", qty)
	}
}

func TestReserve_UnknownType(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Reserve(context.Background(), 1, "platinum", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInsufficientStock, res.Outcome)
}

func TestReserve_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.shop.err = errBackendDown

	_, err := f.svc.Reserve(context.Background(), 1, "gold", 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, errBackendDown)
}

func TestReserve_ClaimStoreUnavailable(t *testing.T) {
	claims, mr := setupClaims(t)
	shop := newMemoryShop()
	shop.stock("gold", 1, "5")
	svc := NewReservationService(shop, shop, claims, testTTL)

	mr.Close()

	_, err := svc.Reserve(context.Background(), 1, "gold", 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestReserve_ConcurrentBuyersNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const stock = 20
	const buyers = 50
	f.shop.stock("gold", stock, "5")

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
		mu      sync.Mutex
		owners  = make(map[int64]int64)
		dupes   []int64
	)
	for i := 1; i <= buyers; i++ {
		wg.Add(1)
		go func(buyer int64) {
			defer wg.Done()
			res, err := f.svc.Reserve(ctx, buyer, "gold", 1)
			if err != nil {
				t.Errorf("buyer %d: %v", buyer, err)
				return
			}
			if res.Outcome != OutcomeOK {
				return
			}
			granted.Add(1)
			mu.Lock()
			defer mu.Unlock()
			for _, id := range domain.LotIDs(res.Claim.Items) {
				if _, taken := owners[id]; taken {
					dupes = append(dupes, id)
				}
				owners[id] = buyer
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, int32(stock), granted.Load())
	assert.Empty(t, dupes)
	assert.Len(t, owners, stock)

	left, err := f.svc.EffectiveStock(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, 0, left)
}

func TestStockView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("gold", 3, "5")
	f.shop.stock("silver", 2, "2")

	_, err := f.svc.Reserve(ctx, 1, "gold", 2)
	require.NoError(t, err)

	lines, err := f.svc.StockView(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "gold", lines[0].Type)
	assert.Equal(t, 1, lines[0].Available)
	assert.True(t, lines[0].MinPrice.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, "silver", lines[1].Type)
	assert.Equal(t, 2, lines[1].Available)
}

func TestSweep_RemovesExpiredClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("gold", 3, "5")

	_, err := f.svc.Reserve(ctx, 1, "gold", 2)
	require.NoError(t, err)

	removed, err := f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	f.clock.Advance(testTTL)

	removed, err = f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.ClaimsSwept))
}

func TestRestock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	added, err := f.svc.Restock(ctx, []domain.Lot{
		{Type: "gold", Price: decimal.NewFromInt(5), Content: "a"},
		{Type: "gold", Price: decimal.NewFromInt(5), Content: "b"},
		{Type: "gold", Price: decimal.NewFromInt(5), Content: "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	stock, err := f.svc.EffectiveStock(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, 2, stock)
}

func TestRestock_RejectsTypeTooLongForCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Restock(ctx, []domain.Lot{
		{Type: "gold", Price: decimal.NewFromInt(5), Content: "a"},
		{Type: strings.Repeat("x", domain.MaxTypeLength+1), Price: decimal.NewFromInt(5), Content: "b"},
	})
	require.ErrorIs(t, err, ErrInvalidLot)

	stock, err := f.svc.EffectiveStock(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, 0, stock)

	added, err := f.svc.Restock(ctx, []domain.Lot{
		{Type: strings.Repeat("x", domain.MaxTypeLength), Price: decimal.NewFromInt(5), Content: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
}

func TestOutcomeMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.shop.stock("gold", 1, "5")

	_, _ = f.svc.Reserve(ctx, 1, "gold", 1)
	_, _ = f.svc.Reserve(ctx, 2, "gold", 1)
	_, _ = f.svc.Confirm(ctx, domain.Requester{ID: 3})

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Reservations.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Reservations.WithLabelValues("insufficient_stock")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Confirmations.WithLabelValues("no_active_claim")))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", OutcomeOK.String())
	assert.Equal(t, "insufficient_stock", OutcomeInsufficientStock.String())
	assert.Equal(t, "no_active_claim", OutcomeNoActiveClaim.String())
	assert.Equal(t, "insufficient_balance", OutcomeInsufficientBalance.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
