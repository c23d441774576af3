package telegram

// Russian interface strings.
const (
	textWelcome         = "Добро пожаловать!"
	textAskSubscribe    = "Подписаться на канал"
	textCheckSubscribe  = "Проверить подписку"
	textNotSubscribed   = "Вы не подписаны на канал"
	textMainMenu        = "Главное меню"
	textLotList         = "Товар"
	textProfile         = "Профиль"
	textSupport         = "Поддержка"
	textSupportInfo     = "По всем вопросам пишите администратору магазина."
	textAvailable       = "В наличии: "
	textPrice           = "Цена: "
	textPcs             = "шт."
	textLotBuyDesc      = "Сколько хотите приобрести?\nВведите количество в диалог чата.\nМаксимально - 20 шт."
	textCategory        = "Выбери категорию: "
	textNoLots          = "Товара пока нет в наличии."
	textBack            = "Назад"
	textPay             = "Оплатить"
	textCancel          = "Отменить"
	textBadQuantity     = "Введите целое число от 1 до 20."
	textNotEnough       = "Недостаточно товара в наличии. Попробуйте меньшее количество."
	textReserved        = "Забронировано %d %s «%s» на сумму %s.\nБронь действует до %s."
	textPaid            = "Покупка оформлена! Файл с товаром отправлен в этот чат."
	textNoFunds         = "Недостаточно средств на балансе. Бронь сохранится до %s."
	textNoClaim         = "Бронь истекла или не найдена."
	textCancelled       = "Бронь отменена."
	textBanned          = "Доступ к магазину ограничен."
	textUnavailable     = "Сервис временно недоступен, попробуйте позже."
	textUnknown         = "Используйте /start для открытия меню."
	textProfileHeader   = "Профиль\nID: %d\nБаланс: %s"
	textActiveClaim     = "Активная бронь: %d %s «%s» до %s"
	textHistoryHeader   = "Последние покупки:"
	textHistoryEmpty    = "Покупок пока нет."
	textDeliveryCaption = "Заказ %s: %d %s «%s»"

	textAdminUsage   = "Команды: /ban <id>, /unban <id>, /dellot <id>, /topup <id> <сумма>"
	textAdminDone    = "Готово."
	textAdminRemoved = "Удалено лотов: %d"
	textAdminBalance = "Баланс %d: %s"
	textUserNotFound = "Пользователь не найден."
)
