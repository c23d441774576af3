package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rl1809/lot-shop/internal/adapter/storage"
	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/core/service"
)

const (
	stepLotQuantity = "lot_quantity"

	cbCheckSubscription = "check_subscription"
	cbMainMenu          = "main_menu"
	cbLotList           = "lot_list"
	cbProfile           = "profile"
	cbSupport           = "support"
	cbBuyPrefix         = "buy_"
	cbConfirm           = "confirm"
	cbCancel            = "cancel"

	timeLayout = "15:04"
)

func (b *Bot) handleCommand(ctx context.Context, who domain.Requester, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.start(ctx, who, msg.Chat.ID)
	case "cancel":
		b.cancel(ctx, who, msg.Chat.ID, 0)
	case cmdBan, cmdUnban, cmdDeleteLot, cmdTopUp:
		b.handleAdmin(ctx, who, msg)
	default:
		b.sendText(msg.Chat.ID, textUnknown)
	}
}

func (b *Bot) handleCallback(ctx context.Context, who domain.Requester, cb *tgbotapi.CallbackQuery) {
	chatID, messageID := who.ID, 0
	if cb.Message != nil {
		chatID, messageID = cb.Message.Chat.ID, cb.Message.MessageID
	}

	if cb.Data == cbCheckSubscription {
		b.checkSubscription(ctx, who, cb, chatID, messageID)
		return
	}
	b.answer(cb.ID, "")

	switch {
	case cb.Data == cbMainMenu:
		b.clearDialog(ctx, chatID)
		b.showMenu(chatID, messageID, textMainMenu, mainMenuKeyboard())
	case cb.Data == cbLotList:
		b.lotList(ctx, chatID, messageID)
	case cb.Data == cbProfile:
		b.profile(ctx, who, chatID, messageID)
	case cb.Data == cbSupport:
		b.showMenu(chatID, messageID, textSupportInfo, backKeyboard())
	case cb.Data == cbConfirm:
		b.confirm(ctx, who, chatID)
	case cb.Data == cbCancel:
		b.cancel(ctx, who, chatID, messageID)
	case strings.HasPrefix(cb.Data, cbBuyPrefix):
		b.askQuantity(ctx, chatID, strings.TrimPrefix(cb.Data, cbBuyPrefix))
	default:
		b.log.Warn().Str("data", cb.Data).Msg("unknown callback")
	}
}

func (b *Bot) handleText(ctx context.Context, who domain.Requester, msg *tgbotapi.Message) {
	state, err := b.dialogs.Get(ctx, msg.Chat.ID)
	if err != nil {
		b.log.Error().Err(err).Int64("chat", msg.Chat.ID).Msg("failed to load dialog")
		b.sendText(msg.Chat.ID, textUnavailable)
		return
	}

	switch state.Step {
	case stepLotQuantity:
		b.reserve(ctx, who, msg.Chat.ID, state.Data, msg.Text)
	default:
		b.sendText(msg.Chat.ID, textUnknown)
	}
}

func (b *Bot) start(ctx context.Context, who domain.Requester, chatID int64) {
	b.clearDialog(ctx, chatID)

	created, err := b.accounts.Register(ctx, who)
	if err != nil {
		b.log.Error().Err(err).Int64("user", who.ID).Msg("failed to register user")
		b.sendText(chatID, textUnavailable)
		return
	}

	if !created && b.isSubscribed(who.ID) {
		b.sendMenu(chatID, textMainMenu, mainMenuKeyboard())
		return
	}
	b.sendMenu(chatID, textWelcome, b.subscribeKeyboard())
}

func (b *Bot) checkSubscription(ctx context.Context, who domain.Requester, cb *tgbotapi.CallbackQuery, chatID int64, messageID int) {
	b.clearDialog(ctx, chatID)

	if !b.isSubscribed(who.ID) {
		b.answer(cb.ID, textNotSubscribed)
		return
	}
	b.answer(cb.ID, "")
	b.showMenu(chatID, messageID, textMainMenu, mainMenuKeyboard())
}

func (b *Bot) lotList(ctx context.Context, chatID int64, messageID int) {
	lines, err := b.shop.StockView(ctx)
	if err != nil {
		b.log.Error().Err(err).Msg("failed to load stock")
		b.sendText(chatID, textUnavailable)
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, line := range lines {
		if line.Available <= 0 {
			continue
		}
		if len(line.Type) > domain.MaxTypeLength {
			b.log.Warn().Str("type", line.Type).Msg("lot type too long for a buy button")
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(stockLabel(line), cbBuyPrefix+line.Type),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(textBack, cbMainMenu)))

	text := textCategory
	if len(rows) == 1 {
		text = textNoLots
	}
	b.showMenu(chatID, messageID, text, tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) askQuantity(ctx context.Context, chatID int64, lotType string) {
	if lotType == "" {
		return
	}
	if err := b.dialogs.Set(ctx, chatID, storage.DialogState{Step: stepLotQuantity, Data: lotType}); err != nil {
		b.log.Error().Err(err).Int64("chat", chatID).Msg("failed to save dialog")
		b.sendText(chatID, textUnavailable)
		return
	}
	b.sendMenu(chatID, textLotBuyDesc, backKeyboard())
}

func (b *Bot) reserve(ctx context.Context, who domain.Requester, chatID int64, lotType, input string) {
	quantity, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || quantity <= 0 || quantity > service.MaxReserveQuantity {
		b.sendText(chatID, textBadQuantity)
		return
	}

	res, err := b.shop.Reserve(ctx, who.ID, lotType, quantity)
	if errors.Is(err, service.ErrInvalidQuantity) {
		b.sendText(chatID, textBadQuantity)
		return
	}
	if err != nil {
		b.log.Error().Err(err).Int64("user", who.ID).Str("type", lotType).Msg("reserve failed")
		b.sendText(chatID, textUnavailable)
		return
	}

	if res.Outcome != service.OutcomeOK {
		b.sendText(chatID, textNotEnough)
		return
	}

	b.clearDialog(ctx, chatID)
	b.sendMenu(chatID, reservedText(res.Claim), checkoutKeyboard())
}

func (b *Bot) confirm(ctx context.Context, who domain.Requester, chatID int64) {
	res, err := b.shop.Confirm(ctx, who)
	if err != nil {
		b.log.Error().Err(err).Int64("user", who.ID).Msg("confirm failed")
		b.sendText(chatID, textUnavailable)
		return
	}

	switch res.Outcome {
	case service.OutcomeOK:
		b.sendMenu(chatID, textPaid, backKeyboard())
	case service.OutcomeInsufficientBalance:
		b.sendMenu(chatID, fmt.Sprintf(textNoFunds, res.Claim.ExpiresAt.Format(timeLayout)), checkoutKeyboard())
	default:
		b.sendMenu(chatID, textNoClaim, backKeyboard())
	}
}

func (b *Bot) cancel(ctx context.Context, who domain.Requester, chatID int64, messageID int) {
	b.clearDialog(ctx, chatID)

	if err := b.shop.Release(ctx, who.ID); err != nil {
		b.log.Error().Err(err).Int64("user", who.ID).Msg("release failed")
		b.sendText(chatID, textUnavailable)
		return
	}
	b.showMenu(chatID, messageID, textCancelled, mainMenuKeyboard())
}

func (b *Bot) profile(ctx context.Context, who domain.Requester, chatID int64, messageID int) {
	profile, err := b.accounts.Profile(ctx, who.ID)
	if err != nil {
		b.log.Error().Err(err).Int64("user", who.ID).Msg("failed to load profile")
		b.sendText(chatID, textUnavailable)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, textProfileHeader, profile.User.TelegramID, profile.User.Balance.StringFixed(2))

	claim, err := b.shop.ActiveClaim(ctx, who.ID)
	if err != nil {
		b.log.Warn().Err(err).Int64("user", who.ID).Msg("failed to load active claim")
	}
	if claim != nil {
		sb.WriteString("\n\n")
		sb.WriteString(activeClaimText(claim))
	}

	sb.WriteString("\n\n")
	if len(profile.Purchases) == 0 {
		sb.WriteString(textHistoryEmpty)
	} else {
		sb.WriteString(textHistoryHeader)
		for _, p := range profile.Purchases {
			fmt.Fprintf(&sb, "\n%s  %s #%d  %s", p.Time.Format("02.01.2006 15:04"), p.Type, p.LotID, p.Price.StringFixed(2))
		}
	}

	b.showMenu(chatID, messageID, sb.String(), backKeyboard())
}

func (b *Bot) clearDialog(ctx context.Context, chatID int64) {
	if err := b.dialogs.Clear(ctx, chatID); err != nil {
		b.log.Warn().Err(err).Int64("chat", chatID).Msg("failed to clear dialog")
	}
}

func stockLabel(line domain.StockLine) string {
	return fmt.Sprintf("%s | %s%s | %s%d %s", line.Type, textPrice, line.MinPrice.StringFixed(2), textAvailable, line.Available, textPcs)
}

func reservedText(claim *domain.Claim) string {
	return fmt.Sprintf(textReserved, claim.Quantity(), textPcs, claim.Type,
		domain.TotalPrice(claim.Items).StringFixed(2), claim.ExpiresAt.Format(timeLayout))
}

func activeClaimText(claim *domain.Claim) string {
	return fmt.Sprintf(textActiveClaim, claim.Quantity(), textPcs, claim.Type, claim.ExpiresAt.Format(timeLayout))
}

func (b *Bot) subscribeKeyboard() tgbotapi.InlineKeyboardMarkup {
	check := tgbotapi.NewInlineKeyboardButtonData(textCheckSubscribe, cbCheckSubscription)
	if b.opts.ChannelURL == "" {
		return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(check))
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonURL(textAskSubscribe, b.opts.ChannelURL),
		check,
	))
}

func mainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(textLotList, cbLotList)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(textProfile, cbProfile)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(textSupport, cbSupport)),
	)
}

func checkoutKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(textPay, cbConfirm),
		tgbotapi.NewInlineKeyboardButtonData(textCancel, cbCancel),
	))
}

func backKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(textBack, cbMainMenu),
	))
}
