package gateway

import (
	"context"

	"github.com/go-telegram/bot"
	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/engine"
	"github.com/grushin/orderbot/internal/model"
)

// UserDirectory резолвит внутренний ID актора в запись пользователя —
// эффекты адресованы внутренними ID, Telegram нужен chat ID.
type UserDirectory interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// AwaitRegistry помечает актора как ожидающего текстового ввода.
// Реализуется менеджером состояний контроллера.
type AwaitRegistry interface {
	SetAwaiting(telegramID int64, step string, entityID int64)
	Clear(telegramID int64)
}

// DispatchFunc прогоняет синтетическое событие (от таймера) через тот же
// конвейер, что и пользовательские события.
type DispatchFunc func(ctx context.Context, ev engine.Event)

// Executor исполняет эффекты оркестратора: сообщения, таймеры,
// публикации в канал, ответы на callback, пометки ожидания ввода.
type Executor struct {
	sender    Sender
	coord     *Coordinator
	users     UserDirectory
	timers    *engine.TimerRegistry
	awaits    AwaitRegistry
	logger    *zap.Logger
	channelID int64

	dispatch DispatchFunc
}

// NewExecutor создаёт исполнитель эффектов. channelID — канал публикации
// завершённых сделок, 0 отключает публикацию.
func NewExecutor(
	sender Sender,
	coord *Coordinator,
	users UserDirectory,
	timers *engine.TimerRegistry,
	awaits AwaitRegistry,
	channelID int64,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		sender:    sender,
		coord:     coord,
		users:     users,
		timers:    timers,
		awaits:    awaits,
		logger:    logger,
		channelID: channelID,
	}
}

// SetDispatch подключает конвейер обработки событий. Вызывается один раз
// при сборке: исполнитель и контроллер ссылаются друг на друга.
func (e *Executor) SetDispatch(fn DispatchFunc) {
	e.dispatch = fn
}

// Execute исполняет список эффектов по порядку. callbackID — ID callback
// query, породившего события, пустая строка для таймеров и текста.
// Платформе всегда отвечаем ровно один раз.
func (e *Executor) Execute(ctx context.Context, effects []engine.Effect, callbackID string) {
	answered := false

	for _, effect := range effects {
		switch ef := effect.(type) {
		case engine.Notify:
			e.executeNotify(ctx, ef)
		case engine.ArmTimer:
			e.executeArmTimer(ef)
		case engine.CancelTimer:
			e.timers.Cancel(ef.ActorID, ef.Purpose)
		case engine.Broadcast:
			e.executeBroadcast(ctx, ef)
		case engine.AnswerCallback:
			if callbackID != "" {
				e.answerCallback(ctx, callbackID, ef.Text, ef.Alert)
				answered = true
			}
		case engine.AwaitInput:
			if user := e.resolveUser(ctx, ef.ActorID); user != nil {
				e.awaits.SetAwaiting(user.TelegramID, ef.Step, ef.EntityID)
			}
		case engine.ClearAwaitInput:
			if user := e.resolveUser(ctx, ef.ActorID); user != nil {
				e.awaits.Clear(user.TelegramID)
			}
		default:
			e.logger.Error("Unknown effect type", zap.Any("effect", effect))
		}
	}

	if callbackID != "" && !answered {
		e.answerCallback(ctx, callbackID, "", false)
	}
}

// executeNotify доставляет сообщение актору. Срыв доставки логируется
// и не откатывает переход: состояние уже зафиксировано в хранилище.
func (e *Executor) executeNotify(ctx context.Context, n engine.Notify) {
	user := e.resolveUser(ctx, n.ActorID)
	if user == nil {
		return
	}

	if err := e.coord.Deliver(ctx, user.TelegramID, n); err != nil {
		e.logger.Error("Failed to deliver notification",
			zap.Int64("actor_id", n.ActorID),
			zap.String("tag", string(n.Tag)),
			zap.Error(err))
	}
}

// executeArmTimer взводит таймер; срабатывание превращается в
// синтетическое событие и уходит в общий конвейер.
func (e *Executor) executeArmTimer(t engine.ArmTimer) {
	var action engine.Action
	switch t.Purpose {
	case engine.PurposeCompletionCheck:
		action = engine.ActionTimerCompletionCheck
	case engine.PurposeBroadcastChoice:
		action = engine.ActionTimerBroadcast
	default:
		e.logger.Error("Unknown timer purpose", zap.String("purpose", string(t.Purpose)))
		return
	}

	ev := engine.Event{
		ActorID:  t.ActorID,
		Action:   action,
		EntityID: t.EntityID,
	}

	e.timers.Arm(t.ActorID, t.Purpose, t.Delay, func() {
		// Контекст исходного запроса к моменту срабатывания давно мёртв
		e.dispatch(context.Background(), ev)
	})
}

func (e *Executor) executeBroadcast(ctx context.Context, b engine.Broadcast) {
	if e.channelID == 0 {
		e.logger.Warn("Broadcast channel not configured, skipping publication")
		return
	}

	if _, err := e.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: e.channelID,
		Text:   b.Text,
	}); err != nil {
		e.logger.Error("Failed to publish to broadcast channel",
			zap.Int64("channel_id", e.channelID),
			zap.Error(err))
	}
}

func (e *Executor) answerCallback(ctx context.Context, callbackID, text string, alert bool) {
	if _, err := e.sender.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	}); err != nil {
		e.logger.Warn("Failed to answer callback query", zap.Error(err))
	}
}

func (e *Executor) resolveUser(ctx context.Context, actorID int64) *model.User {
	user, err := e.users.GetByID(ctx, actorID)
	if err != nil {
		e.logger.Error("Failed to resolve actor", zap.Int64("actor_id", actorID), zap.Error(err))
		return nil
	}
	if user == nil {
		e.logger.Error("Actor not found", zap.Int64("actor_id", actorID))
		return nil
	}
	return user
}
