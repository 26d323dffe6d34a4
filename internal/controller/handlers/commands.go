package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/controller/keyboard"
	"github.com/grushin/orderbot/internal/controller/state"
)

// HandleStart обрабатывает команду /start
func (h *Handlers) HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	user := update.Message.From

	// Регистрируем пользователя
	registeredUser, err := h.userService.RegisterUser(
		ctx,
		user.ID,
		user.Username,
		user.FirstName,
	)

	if err != nil {
		h.logger.Error("Failed to register user", zap.Error(err))
		h.sendError(ctx, b, update.Message.Chat.ID, "❌ Произошла ошибка при регистрации. Попробуйте позже.")
		return
	}

	welcomeText := fmt.Sprintf(
		"👋 Привет, %s!\n\n"+
			"Это бот бронирования курсов у мерчантов.\n\n"+
			"Доступные команды:\n"+
			"/merchants - Список мерчантов\n"+
			"/myorders - Мои заказы\n"+
			"/help - Справка",
		registeredUser.FirstName,
	)

	h.sendMessage(ctx, b, update.Message.Chat.ID, welcomeText)
}

// HandleHelp обрабатывает команду /help
func (h *Handlers) HandleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	helpText := "📚 Справка по командам:\n\n" +
		"/start - Начать работу с ботом\n" +
		"/merchants - Список мерчантов и их контакты\n" +
		"/myorders - Мои заказы\n" +
		"/cancel - Отменить текущий ввод\n" +
		"/help - Показать эту справку\n\n" +
		"Чтобы забронировать курс, запросите контакт мерчанта " +
		"из списка /merchants и выберите тип курса."

	h.sendMessage(ctx, b, update.Message.Chat.ID, helpText)
}

// HandleMerchants обрабатывает команду /merchants - список мерчантов
func (h *Handlers) HandleMerchants(ctx context.Context, b *bot.Bot, update *models.Update) {
	if _, ok := h.requireUser(ctx, b, update); !ok {
		return
	}

	merchants, err := h.userService.GetMerchants(ctx)
	if err != nil {
		h.logger.Error("Failed to list merchants", zap.Error(err))
		h.sendError(ctx, b, update.Message.Chat.ID, "❌ Не удалось получить список мерчантов.")
		return
	}

	if len(merchants) == 0 {
		h.sendMessage(ctx, b, update.Message.Chat.ID, "📭 Пока нет ни одного мерчанта.")
		return
	}

	kb := keyboard.NewBuilder()
	for _, m := range merchants {
		label := m.FirstName
		if m.Username != "" {
			label = fmt.Sprintf("%s (@%s)", m.FirstName, m.Username)
		}
		kb.Row(keyboard.Button("💼 "+label, fmt.Sprintf("contact_%d", m.ID)))
	}

	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        "💼 Выберите мерчанта, чтобы получить его контакты:",
		ReplyMarkup: kb.Build(),
	})
	if err != nil {
		h.logger.Error("Failed to send merchants list", zap.Error(err))
	}
}

// HandleMyOrders обрабатывает команду /myorders - список заказов пользователя
func (h *Handlers) HandleMyOrders(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}

	orders, err := h.orderService.GetUserOrders(ctx, user.ID)
	if err != nil {
		h.logger.Error("Failed to get user orders", zap.Int64("user_id", user.ID), zap.Error(err))
		h.sendError(ctx, b, update.Message.Chat.ID, "❌ Не удалось получить заказы.")
		return
	}

	if len(orders) == 0 {
		h.sendMessage(ctx, b, update.Message.Chat.ID, "📭 У вас пока нет заказов.\n\nНачните с /merchants")
		return
	}

	var sb strings.Builder
	sb.WriteString("📦 Ваши заказы:\n\n")
	for _, order := range orders {
		display := GetOrderStatusDisplay(order.Status)
		sb.WriteString(fmt.Sprintf("%s %s — %s (%s)\n",
			display.Emoji, order.OrderNumber, GetCourseLabel(order.CourseType), display.Text))
		if order.BookingTime != nil {
			sb.WriteString(fmt.Sprintf("    📅 %s\n", order.BookingTime.Format("02.01.2006 15:04")))
		}
	}

	h.sendMessage(ctx, b, update.Message.Chat.ID, sb.String())
}

// HandleCancel обрабатывает команду /cancel - отмена текущего ввода
func (h *Handlers) HandleCancel(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	telegramID := update.Message.From.ID
	currentState := h.stateManager.GetState(telegramID)

	if currentState == state.StateNone {
		h.sendMessage(ctx, b, update.Message.Chat.ID, "❌ Нет активных операций для отмены.")
		return
	}

	// Очищаем состояние
	h.stateManager.ClearState(telegramID)

	h.sendMessage(ctx, b, update.Message.Chat.ID, "✅ Ввод отменён.\n\nИспользуйте /help для просмотра доступных команд.")
}
