package telegram

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-shop/internal/adapter/storage"
	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/core/service"
)

// botAPI is the subset of *tgbotapi.BotAPI the shop uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Shop interface {
	Reserve(ctx context.Context, buyerID int64, lotType string, quantity int) (service.ReserveResult, error)
	Confirm(ctx context.Context, buyer domain.Requester) (service.ConfirmResult, error)
	Release(ctx context.Context, buyerID int64) error
	StockView(ctx context.Context) ([]domain.StockLine, error)
	ActiveClaim(ctx context.Context, buyerID int64) (*domain.Claim, error)
	RemoveLots(ctx context.Context, ids ...int64) (int, error)
}

type Accounts interface {
	Register(ctx context.Context, who domain.Requester) (bool, error)
	Profile(ctx context.Context, telegramID int64) (*service.Profile, error)
	IsBanned(ctx context.Context, telegramID int64) (bool, error)
	SetBan(ctx context.Context, telegramID int64, banned bool) error
	TopUp(ctx context.Context, telegramID int64, amount decimal.Decimal) (decimal.Decimal, error)
}

type DialogStore interface {
	Get(ctx context.Context, chatID int64) (storage.DialogState, error)
	Set(ctx context.Context, chatID int64, state storage.DialogState) error
	Clear(ctx context.Context, chatID int64) error
}

type Options struct {
	// ChannelID of the channel buyers must join; 0 disables the gate
	ChannelID  int64
	ChannelURL string
	// Admins may use the moderation commands
	Admins []int64
}

type Bot struct {
	api      botAPI
	shop     Shop
	accounts Accounts
	dialogs  DialogStore
	opts     Options
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func New(api botAPI, shop Shop, accounts Accounts, dialogs DialogStore, opts Options, log zerolog.Logger) *Bot {
	return &Bot{
		api:      api,
		shop:     shop,
		accounts: accounts,
		dialogs:  dialogs,
		opts:     opts,
		log:      log,
	}
}

// Run long-polls for updates until ctx is cancelled, then waits for in-flight handlers.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.log.Info().Msg("bot started")
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, update)
			}()
		}
	}
}

// HandleUpdate dispatches one update. Panics are logged and swallowed.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Int("update", update.UpdateID).Msg("handler panicked")
		}
	}()

	who, ok := requesterFrom(update)
	if !ok {
		return
	}
	log := b.log.With().Int64("user", who.ID).Logger()

	banned, err := b.accounts.IsBanned(ctx, who.ID)
	if err != nil {
		log.Error().Err(err).Msg("ban check failed")
		b.sendText(chatIDFrom(update), textUnavailable)
		return
	}
	if banned {
		if update.CallbackQuery != nil {
			b.answer(update.CallbackQuery.ID, "")
		}
		b.sendText(chatIDFrom(update), textBanned)
		return
	}

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, who, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, who, update.Message)
	case update.Message != nil:
		b.handleText(ctx, who, update.Message)
	}
}

// requesterFrom builds the platform independent identity of whoever sent the update.
func requesterFrom(update tgbotapi.Update) (domain.Requester, bool) {
	var from *tgbotapi.User
	switch {
	case update.Message != nil:
		from = update.Message.From
	case update.CallbackQuery != nil:
		from = update.CallbackQuery.From
	}
	if from == nil {
		return domain.Requester{}, false
	}

	return domain.Requester{
		ID:       from.ID,
		Username: from.UserName,
		Name:     strings.TrimSpace(from.FirstName + " " + from.LastName),
	}, true
}

func chatIDFrom(update tgbotapi.Update) int64 {
	switch {
	case update.Message != nil:
		return update.Message.Chat.ID
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		return update.CallbackQuery.Message.Chat.ID
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From.ID
	}
	return 0
}

// isSubscribed reports whether the user is a member of the configured channel.
func (b *Bot) isSubscribed(userID int64) bool {
	if b.opts.ChannelID == 0 {
		return true
	}

	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: b.opts.ChannelID, UserID: userID},
	})
	if err != nil {
		b.log.Warn().Err(err).Int64("user", userID).Msg("subscription check failed")
		return false
	}

	switch member.Status {
	case "member", "administrator", "creator":
		return true
	}
	return false
}

func (b *Bot) sendText(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) sendMenu(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	b.send(msg)
}

// showMenu edits the message the callback came from, or sends a new one when that is not possible.
func (b *Bot) showMenu(chatID int64, messageID int, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	if messageID != 0 {
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, keyboard)
		_, err := b.api.Request(edit)
		if err == nil || strings.Contains(err.Error(), "message is not modified") {
			return
		}
	}
	b.sendMenu(chatID, text, keyboard)
}

func (b *Bot) answer(callbackID, alert string) {
	cb := tgbotapi.NewCallback(callbackID, "")
	if alert != "" {
		cb = tgbotapi.NewCallbackWithAlert(callbackID, alert)
	}
	if _, err := b.api.Request(cb); err != nil {
		b.log.Warn().Err(err).Msg("failed to answer callback")
	}
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Error().Err(err).Msg("failed to send message")
	}
}
