package gateway

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/engine"
)

// Sender — подмножество методов *bot.Bot, нужное gateway.
// Выделено в интерфейс ради тестов.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

type trackKey struct {
	ChatID int64
	Tag    engine.MessageTag
}

// Coordinator доставляет Notify-эффекты и помнит по каждому чату
// последнее сообщение каждого тега. Это позволяет режимам replace
// и edit работать поверх stateless Telegram API: старую подсказку
// удаляем или правим на месте вместо захламления чата.
type Coordinator struct {
	mu      sync.Mutex
	tracked map[trackKey]int

	sender Sender
	logger *zap.Logger
}

// NewCoordinator создаёт координатор доставки
func NewCoordinator(sender Sender, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		tracked: make(map[trackKey]int),
		sender:  sender,
		logger:  logger,
	}
}

// Deliver отправляет уведомление в чат согласно режиму доставки
func (c *Coordinator) Deliver(ctx context.Context, chatID int64, n engine.Notify) error {
	markup := toReplyMarkup(n.Keyboard)
	key := trackKey{ChatID: chatID, Tag: n.Tag}

	switch n.Mode {
	case engine.ModeEdit:
		if id, ok := c.lastMessage(key); ok {
			msg, err := c.sender.EditMessageText(ctx, &bot.EditMessageTextParams{
				ChatID:      chatID,
				MessageID:   id,
				Text:        n.Text,
				ReplyMarkup: markup,
			})
			if err == nil {
				if msg != nil {
					c.track(key, msg.ID)
				}
				return nil
			}
			// Сообщение могли удалить руками — падаем на обычную отправку
			c.logger.Warn("Edit failed, sending fresh message",
				zap.Int64("chat_id", chatID),
				zap.String("tag", string(n.Tag)),
				zap.Error(err))
		}

	case engine.ModeReplace:
		if id, ok := c.lastMessage(key); ok {
			if _, err := c.sender.DeleteMessage(ctx, &bot.DeleteMessageParams{
				ChatID:    chatID,
				MessageID: id,
			}); err != nil {
				c.logger.Debug("Failed to delete replaced message",
					zap.Int64("chat_id", chatID),
					zap.Int("message_id", id),
					zap.Error(err))
			}
		}
	}

	msg, err := c.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        n.Text,
		ReplyMarkup: markup,
	})
	if err != nil {
		return err
	}

	c.track(key, msg.ID)
	return nil
}

// Forget сбрасывает отслеживание тега в чате
func (c *Coordinator) Forget(chatID int64, tag engine.MessageTag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tracked, trackKey{ChatID: chatID, Tag: tag})
}

func (c *Coordinator) lastMessage(key trackKey) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.tracked[key]
	return id, ok
}

func (c *Coordinator) track(key trackKey, messageID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked[key] = messageID
}

// toReplyMarkup переводит платформо-независимую клавиатуру в Telegram markup
func toReplyMarkup(keyboard [][]engine.Button) models.ReplyMarkup {
	if len(keyboard) == 0 {
		return nil
	}

	rows := make([][]models.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, models.InlineKeyboardButton{
				Text:         b.Text,
				CallbackData: b.Data,
			})
		}
		rows = append(rows, buttons)
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
