package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-shop/internal/adapter/storage"
	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/port"
)

// memoryShop is an in-memory inventory, ledger and user store.
type memoryShop struct {
	mu     sync.Mutex
	lots   map[int64]domain.Lot
	users  map[int64]*domain.User
	sales  []domain.Sale
	nextID int64
	err    error
}

func newMemoryShop() *memoryShop {
	return &memoryShop{
		lots:  make(map[int64]domain.Lot),
		users: make(map[int64]*domain.User),
	}
}

func (m *memoryShop) stock(lotType string, n int, price string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		m.nextID++
		m.lots[m.nextID] = domain.Lot{
			ID:      m.nextID,
			Type:    lotType,
			Format:  "txt",
			Price:   decimal.RequireFromString(price),
			Content: "secret-" + lotType,
		}
		ids = append(ids, m.nextID)
	}
	return ids
}

func (m *memoryShop) addUser(id int64, balance string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = &domain.User{TelegramID: id, Balance: decimal.RequireFromString(balance), Language: domain.DefaultLanguage}
}

func (m *memoryShop) balance(id int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id].Balance
}

func (m *memoryShop) sorted(lotType string) []domain.Lot {
	var out []domain.Lot
	for _, l := range m.lots {
		if l.Type == lotType {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Price.Equal(out[j].Price) {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memoryShop) CountAvailable(_ context.Context, lotType string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return len(m.sorted(lotType)), nil
}

func (m *memoryShop) ListAvailable(_ context.Context, lotType string, limit int) ([]domain.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	lots := m.sorted(lotType)
	if limit > 0 && len(lots) > limit {
		lots = lots[:limit]
	}
	return lots, nil
}

func (m *memoryShop) Remove(_ context.Context, ids ...int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := m.lots[id]; ok {
			delete(m.lots, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryShop) Summary(_ context.Context) ([]domain.StockLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byType := make(map[string]*domain.StockLine)
	for _, l := range m.lots {
		line, ok := byType[l.Type]
		if !ok {
			line = &domain.StockLine{Type: l.Type, MinPrice: l.Price}
			byType[l.Type] = line
		}
		if l.Price.LessThan(line.MinPrice) {
			line.MinPrice = l.Price
		}
		line.Available++
	}
	var lines []domain.StockLine
	for _, line := range byType {
		lines = append(lines, *line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Type < lines[j].Type })
	return lines, nil
}

func (m *memoryShop) AddLots(_ context.Context, lots []domain.Lot) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, l := range m.lots {
		seen[l.Content] = true
	}
	added := 0
	for _, l := range lots {
		if seen[l.Content] {
			continue
		}
		seen[l.Content] = true
		m.nextID++
		l.ID = m.nextID
		m.lots[l.ID] = l
		added++
	}
	return added, nil
}

func (m *memoryShop) RecordSale(_ context.Context, sale domain.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[sale.Buyer.ID]
	if !ok {
		return port.ErrUserNotFound
	}
	if user.Balance.LessThan(sale.Total) {
		return port.ErrInsufficientBalance
	}
	for _, l := range sale.Items {
		if _, ok := m.lots[l.ID]; !ok {
			return port.ErrLotsUnavailable
		}
	}
	user.Balance = user.Balance.Sub(sale.Total)
	for _, l := range sale.Items {
		delete(m.lots, l.ID)
	}
	m.sales = append(m.sales, sale)
	return nil
}

func (m *memoryShop) GetUser(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memoryShop) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.TelegramID] = &u
	return nil
}

func (m *memoryShop) TouchUser(_ context.Context, who domain.Requester) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[who.ID]; ok {
		u.Username = who.Username
		u.LastVisit = time.Now()
	}
	return nil
}

func (m *memoryShop) TopUp(_ context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return decimal.Zero, port.ErrUserNotFound
	}
	u.Balance = u.Balance.Add(amount)
	return u.Balance, nil
}

func (m *memoryShop) SetBan(_ context.Context, id int64, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return port.ErrUserNotFound
	}
	u.IsBanned = banned
	return nil
}

func (m *memoryShop) History(_ context.Context, id int64, limit int) ([]domain.SellRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []domain.SellRecord
	for i := len(m.sales) - 1; i >= 0 && len(records) < limit; i-- {
		sale := m.sales[i]
		if sale.Buyer.ID != id {
			continue
		}
		for _, l := range sale.Items {
			if len(records) == limit {
				break
			}
			records = append(records, domain.SellRecord{SaleID: sale.ID, Time: sale.CreatedAt, Type: l.Type, LotID: l.ID, Price: l.Price})
		}
	}
	return records, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	sales []domain.Sale
	err   error
}

func (n *recordingNotifier) DeliverSale(_ context.Context, sale domain.Sale) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sales = append(n.sales, sale)
	return n.err
}

func (n *recordingNotifier) PublishSale(ctx context.Context, sale domain.Sale) error {
	return n.DeliverSale(ctx, sale)
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBackendDown = errors.New("connection refused")

func setupClaims(t *testing.T) (*storage.RedisAdapter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return storage.NewRedisAdapter(client), mr
}
