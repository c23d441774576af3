package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/lot-shop/internal/adapter/storage"
	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/core/service"
	"github.com/rl1809/lot-shop/internal/port"
)

const buyerID int64 = 77

var testExpiry = time.Date(2024, 5, 1, 12, 15, 0, 0, time.UTC)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	status   string
	sendErr  error
	updates  chan tgbotapi.Update
	stopped  bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetChatMember(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	if f.status == "" {
		return tgbotapi.ChatMember{}, errors.New("chat not found")
	}
	return tgbotapi.ChatMember{Status: f.status}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

// texts returns the text of every sent message followed by every edit.
func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, c := range append(append([]tgbotapi.Chattable{}, f.sent...), f.requests...) {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeAPI) lastSent() tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if m, ok := f.sent[i].(tgbotapi.MessageConfig); ok {
			return m
		}
	}
	return tgbotapi.MessageConfig{}
}

func (f *fakeAPI) lastEdit() tgbotapi.EditMessageTextConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if m, ok := f.requests[i].(tgbotapi.EditMessageTextConfig); ok {
			return m
		}
	}
	return tgbotapi.EditMessageTextConfig{}
}

func (f *fakeAPI) callbackAnswers() []tgbotapi.CallbackConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.CallbackConfig
	for _, c := range f.requests {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb)
		}
	}
	return out
}

type reserveCall struct {
	buyerID  int64
	lotType  string
	quantity int
}

type fakeShop struct {
	reserveRes   service.ReserveResult
	reserveErr   error
	reserveCalls []reserveCall
	panicOnStock bool

	confirmRes service.ConfirmResult
	confirmErr error
	confirmed  []domain.Requester

	released []int64
	removed  []int64
	stock    []domain.StockLine
	claim    *domain.Claim
}

func (f *fakeShop) Reserve(_ context.Context, buyerID int64, lotType string, quantity int) (service.ReserveResult, error) {
	f.reserveCalls = append(f.reserveCalls, reserveCall{buyerID, lotType, quantity})
	return f.reserveRes, f.reserveErr
}

func (f *fakeShop) Confirm(_ context.Context, buyer domain.Requester) (service.ConfirmResult, error) {
	f.confirmed = append(f.confirmed, buyer)
	return f.confirmRes, f.confirmErr
}

func (f *fakeShop) Release(_ context.Context, buyerID int64) error {
	f.released = append(f.released, buyerID)
	return nil
}

func (f *fakeShop) StockView(context.Context) ([]domain.StockLine, error) {
	if f.panicOnStock {
		panic("stock exploded")
	}
	return f.stock, nil
}

func (f *fakeShop) ActiveClaim(context.Context, int64) (*domain.Claim, error) {
	return f.claim, nil
}

func (f *fakeShop) RemoveLots(_ context.Context, ids ...int64) (int, error) {
	f.removed = append(f.removed, ids...)
	return len(ids), nil
}

type fakeAccounts struct {
	created    bool
	banned     bool
	profile    *service.Profile
	registered []domain.Requester
	bans       map[int64]bool
	topUps     map[int64]decimal.Decimal
	missing    bool
}

func (f *fakeAccounts) Register(_ context.Context, who domain.Requester) (bool, error) {
	f.registered = append(f.registered, who)
	return f.created, nil
}

func (f *fakeAccounts) Profile(context.Context, int64) (*service.Profile, error) {
	if f.profile == nil {
		return nil, port.ErrUserNotFound
	}
	return f.profile, nil
}

func (f *fakeAccounts) IsBanned(context.Context, int64) (bool, error) {
	return f.banned, nil
}

func (f *fakeAccounts) SetBan(_ context.Context, telegramID int64, banned bool) error {
	if f.missing {
		return port.ErrUserNotFound
	}
	if f.bans == nil {
		f.bans = make(map[int64]bool)
	}
	f.bans[telegramID] = banned
	return nil
}

func (f *fakeAccounts) TopUp(_ context.Context, telegramID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if f.missing {
		return decimal.Zero, port.ErrUserNotFound
	}
	if f.topUps == nil {
		f.topUps = make(map[int64]decimal.Decimal)
	}
	f.topUps[telegramID] = f.topUps[telegramID].Add(amount)
	return f.topUps[telegramID], nil
}

type botFixture struct {
	bot      *Bot
	api      *fakeAPI
	shop     *fakeShop
	accounts *fakeAccounts
	dialogs  *storage.RedisDialogStore
}

func newBotFixture(t *testing.T, opts Options) *botFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &botFixture{
		api:      &fakeAPI{},
		shop:     &fakeShop{},
		accounts: &fakeAccounts{},
		dialogs:  storage.NewRedisDialogStore(client, time.Minute),
	}
	f.bot = New(f.api, f.shop, f.accounts, f.dialogs, opts, zerolog.Nop())
	return f
}

func (f *botFixture) dialog(t *testing.T) storage.DialogState {
	t.Helper()
	state, err := f.dialogs.Get(context.Background(), buyerID)
	require.NoError(t, err)
	return state
}

func testUser() *tgbotapi.User {
	return &tgbotapi.User{ID: buyerID, FirstName: "Alice", LastName: "Smith", UserName: "alice"}
}

func messageUpdate(text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      testUser(),
		Chat:      &tgbotapi.Chat{ID: buyerID},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		length := len(text)
		if i := strings.IndexByte(text, ' '); i > 0 {
			length = i
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

func callbackUpdate(data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 2,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-1",
			From: testUser(),
			Data: data,
			Message: &tgbotapi.Message{
				MessageID: 10,
				Chat:      &tgbotapi.Chat{ID: buyerID},
			},
		},
	}
}
