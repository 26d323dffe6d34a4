package controller

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/controller/handlers"
	"github.com/grushin/orderbot/internal/controller/state"
	"github.com/grushin/orderbot/internal/engine"
	"github.com/grushin/orderbot/internal/gateway"
	"github.com/grushin/orderbot/internal/service"
)

type BotController struct {
	bot         *bot.Bot
	handlers    *handlers.Handlers
	parser      *engine.Parser
	guard       *engine.CooldownRegistry
	orch        *engine.Orchestrator
	executor    *gateway.Executor
	userService *service.UserService
	logger      *zap.Logger
}

func NewBotController(
	botInstance *bot.Bot,
	userService *service.UserService,
	orderService *service.OrderService,
	orch *engine.Orchestrator,
	guard *engine.CooldownRegistry,
	executor *gateway.Executor,
	stateManager *state.Manager,
	logger *zap.Logger,
) *BotController {
	c := &BotController{
		bot:         botInstance,
		parser:      engine.NewParser(),
		guard:       guard,
		orch:        orch,
		executor:    executor,
		userService: userService,
		logger:      logger,
	}

	// Обработчики команд. Текстовый ввод уходит в тот же конвейер,
	// что и callback события.
	c.handlers = handlers.NewHandlers(
		userService,
		orderService,
		stateManager,
		func(ctx context.Context, ev engine.Event) {
			c.DispatchEvent(ctx, ev, "")
		},
		logger,
	)

	// Сработавшие таймеры тоже
	executor.SetDispatch(func(ctx context.Context, ev engine.Event) {
		c.DispatchEvent(ctx, ev, "")
	})

	return c
}

// RegisterHandlers регистрирует все обработчики команд
func (c *BotController) RegisterHandlers(ctx context.Context) error {
	// Регистрируем команды
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, c.handlers.HandleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, c.handlers.HandleHelp)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/merchants", bot.MatchTypeExact, c.handlers.HandleMerchants)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/myorders", bot.MatchTypeExact, c.handlers.HandleMyOrders)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/cancel", bot.MatchTypeExact, c.handlers.HandleCancel)

	// Обработчик текстовых сообщений (для комментариев к оценкам)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, c.handlers.HandleTextMessage)

	// Обработчик нажатий на inline кнопки
	c.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, c.HandleCallbackQuery)

	// Устанавливаем меню команд
	return c.setCommands(ctx)
}

// setCommands устанавливает список команд в меню бота
func (c *BotController) setCommands(ctx context.Context) error {
	commands := []models.BotCommand{
		{Command: "start", Description: "🚀 Начать работу с ботом"},
		{Command: "help", Description: "❓ Справка по командам"},
		{Command: "merchants", Description: "💼 Список мерчантов"},
		{Command: "myorders", Description: "📦 Мои заказы"},
		{Command: "cancel", Description: "↩️ Отменить текущий ввод"},
	}

	_, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: commands,
	})

	if err != nil {
		c.logger.Error("Failed to set bot commands", zap.Error(err))
		return err
	}

	c.logger.Info("✅ Bot commands menu set")
	return nil
}

// HandleCallbackQuery — единая точка входа для callback кнопок:
// декодирование токена, защита от дублей, оркестратор, эффекты.
func (c *BotController) HandleCallbackQuery(ctx context.Context, b *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}

	c.logger.Info("Handling callback",
		zap.String("data", callback.Data),
		zap.Int64("telegram_id", callback.From.ID))

	user, err := c.userService.GetByTelegramID(ctx, callback.From.ID)
	if err != nil {
		c.logger.Error("Failed to get user for callback", zap.Error(err))
		c.answer(ctx, callback.ID, "❌ Произошла ошибка. Попробуйте позже.", true)
		return
	}
	if user == nil {
		c.answer(ctx, callback.ID, "❌ Используйте /start для регистрации.", true)
		return
	}

	ev, err := c.parser.Parse(callback.Data)
	if err != nil {
		// Устаревшая кнопка или чужой токен: подтверждаем клик и молчим
		c.logger.Warn("Unparsable callback data",
			zap.String("data", callback.Data),
			zap.Error(err))
		c.answer(ctx, callback.ID, "", false)
		return
	}
	ev.ActorID = user.ID

	if !ev.BypassesGuard() && !c.guard.Allow(user.ID, ev.ActionClass()) {
		// Дубль двойного нажатия: тихо подтверждаем и не обрабатываем
		c.logger.Debug("Duplicate action suppressed",
			zap.Int64("user_id", user.ID),
			zap.String("class", ev.ActionClass()))
		c.answer(ctx, callback.ID, "", false)
		return
	}

	c.DispatchEvent(ctx, ev, callback.ID)
}

// DispatchEvent прогоняет событие через оркестратор и исполняет эффекты.
// callbackID пуст для событий от таймеров и текстового ввода.
func (c *BotController) DispatchEvent(ctx context.Context, ev engine.Event, callbackID string) {
	effects, err := c.orch.Handle(ctx, ev)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidTransition):
			// Повторная доставка уже принятого события: состояние корректно,
			// просто подтверждаем клик
			c.logger.Info("Stale event ignored",
				zap.String("action", string(ev.Action)),
				zap.Int64("entity_id", ev.EntityID))
			effects = []engine.Effect{engine.AnswerCallback{}}
		case errors.Is(err, engine.ErrSessionNotFound):
			c.logger.Warn("Event references missing entity",
				zap.String("action", string(ev.Action)),
				zap.Int64("entity_id", ev.EntityID))
			effects = []engine.Effect{engine.AnswerCallback{Text: "⚠️ Эта операция устарела.", Alert: true}}
		default:
			c.logger.Error("Failed to handle event",
				zap.String("action", string(ev.Action)),
				zap.Int64("actor_id", ev.ActorID),
				zap.Error(err))
			effects = []engine.Effect{engine.AnswerCallback{Text: "❌ Произошла ошибка. Попробуйте ещё раз.", Alert: true}}
		}
	}

	c.executor.Execute(ctx, effects, callbackID)
}

// answer подтверждает callback query вне конвейера эффектов
func (c *BotController) answer(ctx context.Context, callbackID, text string, alert bool) {
	_, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		c.logger.Warn("Failed to answer callback query", zap.Error(err))
	}
}

// Start запускает бота
func (c *BotController) Start(ctx context.Context) error {
	c.logger.Info("Starting bot...")
	c.bot.Start(ctx)
	return nil
}
