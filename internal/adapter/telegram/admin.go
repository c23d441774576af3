package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/port"
)

const (
	cmdBan       = "ban"
	cmdUnban     = "unban"
	cmdDeleteLot = "dellot"
	cmdTopUp     = "topup"
)

func (b *Bot) isAdmin(telegramID int64) bool {
	for _, id := range b.opts.Admins {
		if id == telegramID {
			return true
		}
	}
	return false
}

// handleAdmin runs a moderation command. Non-admins get the same reply as for an unknown command.
func (b *Bot) handleAdmin(ctx context.Context, who domain.Requester, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.isAdmin(who.ID) {
		b.sendText(chatID, textUnknown)
		return
	}

	args := strings.Fields(msg.CommandArguments())
	if len(args) == 0 {
		b.sendText(chatID, textAdminUsage)
		return
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.sendText(chatID, textAdminUsage)
		return
	}

	log := b.log.With().Int64("admin", who.ID).Str("command", msg.Command()).Int64("target", target).Logger()

	var reply string
	switch msg.Command() {
	case cmdBan, cmdUnban:
		err = b.accounts.SetBan(ctx, target, msg.Command() == cmdBan)
		reply = textAdminDone
	case cmdDeleteLot:
		var removed int
		removed, err = b.shop.RemoveLots(ctx, target)
		reply = fmt.Sprintf(textAdminRemoved, removed)
	case cmdTopUp:
		if len(args) != 2 {
			b.sendText(chatID, textAdminUsage)
			return
		}
		amount, perr := decimal.NewFromString(args[1])
		if perr != nil || !amount.IsPositive() {
			b.sendText(chatID, textAdminUsage)
			return
		}
		var balance decimal.Decimal
		balance, err = b.accounts.TopUp(ctx, target, amount)
		reply = fmt.Sprintf(textAdminBalance, target, balance.StringFixed(2))
	}

	switch {
	case errors.Is(err, port.ErrUserNotFound):
		b.sendText(chatID, textUserNotFound)
	case err != nil:
		log.Error().Err(err).Msg("admin command failed")
		b.sendText(chatID, textUnavailable)
	default:
		log.Info().Msg("admin command applied")
		b.sendText(chatID, reply)
	}
}
