package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/controller/state"
	"github.com/grushin/orderbot/internal/engine"
)

// HandleTextMessage обрабатывает текстовые сообщения в зависимости от состояния пользователя
func (h *Handlers) HandleTextMessage(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	// Игнорируем команды (они обрабатываются другими handlers)
	if strings.HasPrefix(update.Message.Text, "/") {
		return
	}

	telegramID := update.Message.From.ID
	currentState := h.stateManager.GetState(telegramID)

	// Если нет активного состояния, игнорируем
	if currentState == state.StateNone {
		return
	}

	switch currentState {
	case state.StateAwaitingComment:
		h.handleCommentInput(ctx, b, update)
	default:
		h.logger.Warn("Unknown state", zap.String("state", string(currentState)))
	}
}

// handleCommentInput превращает свободный текст в событие комментария к оценке
func (h *Handlers) handleCommentInput(ctx context.Context, b *bot.Bot, update *models.Update) {
	telegramID := update.Message.From.ID
	commentText := strings.TrimSpace(update.Message.Text)

	evalIDData, ok := h.stateManager.GetData(telegramID, state.DataEvaluationID)
	if !ok {
		h.logger.Error("Missing evaluation_id in state", zap.Int64("telegram_id", telegramID))
		h.sendError(ctx, b, update.Message.Chat.ID, "❌ Ошибка: данные не найдены. Начните заново.")
		h.stateManager.ClearState(telegramID)
		return
	}

	evalID, ok := evalIDData.(int64)
	if !ok {
		h.logger.Error("Invalid evaluation_id type", zap.Any("data", evalIDData))
		h.sendError(ctx, b, update.Message.Chat.ID, "❌ Ошибка: неверный формат данных.")
		h.stateManager.ClearState(telegramID)
		return
	}

	user, err := h.userService.GetByTelegramID(ctx, telegramID)
	if err != nil || user == nil {
		h.logger.Error("User not found for comment input", zap.Int64("telegram_id", telegramID), zap.Error(err))
		h.sendError(ctx, b, update.Message.Chat.ID, "❌ Пользователь не найден. Используйте /start.")
		h.stateManager.ClearState(telegramID)
		return
	}

	// Состояние снимает эффект ClearAwaitInput после успешной обработки
	h.dispatch(ctx, engine.Event{
		ActorID:  user.ID,
		Action:   engine.ActionTextComment,
		EntityID: evalID,
		RawText:  commentText,
	})
}
