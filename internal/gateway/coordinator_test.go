package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/engine"
)

// fakeSender записывает вызовы Telegram API и раздаёт возрастающие ID сообщений.
type fakeSender struct {
	sent    []*bot.SendMessageParams
	edited  []*bot.EditMessageTextParams
	deleted []*bot.DeleteMessageParams

	editErr error
	nextID  int
}

func (f *fakeSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.sent = append(f.sent, params)
	f.nextID++
	return &models.Message{ID: f.nextID}, nil
}

func (f *fakeSender) EditMessageText(_ context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	if f.editErr != nil {
		return nil, f.editErr
	}
	f.edited = append(f.edited, params)
	return &models.Message{ID: params.MessageID}, nil
}

func (f *fakeSender) DeleteMessage(_ context.Context, params *bot.DeleteMessageParams) (bool, error) {
	f.deleted = append(f.deleted, params)
	return true, nil
}

func (f *fakeSender) AnswerCallbackQuery(_ context.Context, _ *bot.AnswerCallbackQueryParams) (bool, error) {
	return true, nil
}

const chatID = int64(42)

func TestDeliver_AppendSendsAndTracks(t *testing.T) {
	sender := &fakeSender{}
	coord := NewCoordinator(sender, zap.NewNop())

	err := coord.Deliver(context.Background(), chatID, engine.Notify{
		Text: "первое",
		Mode: engine.ModeAppend,
		Tag:  engine.TagNotice,
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	err = coord.Deliver(context.Background(), chatID, engine.Notify{
		Text: "второе",
		Mode: engine.ModeAppend,
		Tag:  engine.TagNotice,
	})
	require.NoError(t, err)

	require.Len(t, sender.sent, 2, "append never touches previous messages")
	assert.Empty(t, sender.deleted)
	assert.Empty(t, sender.edited)
}

func TestDeliver_ReplaceDeletesTracked(t *testing.T) {
	sender := &fakeSender{}
	coord := NewCoordinator(sender, zap.NewNop())
	ctx := context.Background()

	n := engine.Notify{Text: "форма", Mode: engine.ModeReplace, Tag: engine.TagBookingOptions}
	require.NoError(t, coord.Deliver(ctx, chatID, n))
	assert.Empty(t, sender.deleted, "nothing tracked yet, nothing to delete")

	require.NoError(t, coord.Deliver(ctx, chatID, n))
	require.Len(t, sender.deleted, 1)
	assert.Equal(t, 1, sender.deleted[0].MessageID, "the first delivery is replaced")
	assert.Len(t, sender.sent, 2)
}

func TestDeliver_ReplaceIsPerTagAndChat(t *testing.T) {
	sender := &fakeSender{}
	coord := NewCoordinator(sender, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, coord.Deliver(ctx, chatID, engine.Notify{Text: "а", Mode: engine.ModeReplace, Tag: engine.TagBookingOptions}))
	require.NoError(t, coord.Deliver(ctx, chatID, engine.Notify{Text: "б", Mode: engine.ModeReplace, Tag: engine.TagRebookChoice}))
	require.NoError(t, coord.Deliver(ctx, chatID+1, engine.Notify{Text: "в", Mode: engine.ModeReplace, Tag: engine.TagBookingOptions}))

	assert.Empty(t, sender.deleted, "different tags and chats do not replace each other")
}

func TestDeliver_EditUpdatesInPlace(t *testing.T) {
	sender := &fakeSender{}
	coord := NewCoordinator(sender, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, coord.Deliver(ctx, chatID, engine.Notify{Text: "v1", Mode: engine.ModeAppend, Tag: engine.TagEvaluationForm}))

	err := coord.Deliver(ctx, chatID, engine.Notify{Text: "v2", Mode: engine.ModeEdit, Tag: engine.TagEvaluationForm})
	require.NoError(t, err)

	require.Len(t, sender.edited, 1)
	assert.Equal(t, 1, sender.edited[0].MessageID)
	assert.Equal(t, "v2", sender.edited[0].Text)
	assert.Len(t, sender.sent, 1, "successful edit sends nothing new")
}

func TestDeliver_EditFallsBackToSend(t *testing.T) {
	sender := &fakeSender{}
	coord := NewCoordinator(sender, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, coord.Deliver(ctx, chatID, engine.Notify{Text: "v1", Mode: engine.ModeAppend, Tag: engine.TagEvaluationForm}))

	// Пользователь удалил сообщение руками — edit отваливается
	sender.editErr = errors.New("message to edit not found")
	err := coord.Deliver(ctx, chatID, engine.Notify{Text: "v2", Mode: engine.ModeEdit, Tag: engine.TagEvaluationForm})
	require.NoError(t, err)

	require.Len(t, sender.sent, 2, "failed edit degrades to a fresh message")
	assert.Equal(t, "v2", sender.sent[1].Text)

	// Свежее сообщение перехватывает отслеживание тега
	sender.editErr = nil
	require.NoError(t, coord.Deliver(ctx, chatID, engine.Notify{Text: "v3", Mode: engine.ModeEdit, Tag: engine.TagEvaluationForm}))
	require.Len(t, sender.edited, 1)
	assert.Equal(t, 2, sender.edited[0].MessageID)
}

func TestDeliver_EditWithoutTrackedSends(t *testing.T) {
	sender := &fakeSender{}
	coord := NewCoordinator(sender, zap.NewNop())

	err := coord.Deliver(context.Background(), chatID, engine.Notify{Text: "v1", Mode: engine.ModeEdit, Tag: engine.TagEvaluationForm})
	require.NoError(t, err)

	assert.Empty(t, sender.edited)
	assert.Len(t, sender.sent, 1)
}

func TestForget(t *testing.T) {
	sender := &fakeSender{}
	coord := NewCoordinator(sender, zap.NewNop())
	ctx := context.Background()

	n := engine.Notify{Text: "x", Mode: engine.ModeReplace, Tag: engine.TagNotice}
	require.NoError(t, coord.Deliver(ctx, chatID, n))
	coord.Forget(chatID, engine.TagNotice)

	require.NoError(t, coord.Deliver(ctx, chatID, n))
	assert.Empty(t, sender.deleted, "forgotten tag is delivered as new")
}

func TestToReplyMarkup(t *testing.T) {
	assert.Nil(t, toReplyMarkup(nil), "no keyboard means no markup at all")

	markup := toReplyMarkup([][]engine.Button{
		{{Text: "Да", Data: "rebook_yes_7"}, {Text: "Нет", Data: "rebook_no_7"}},
	})
	inline, ok := markup.(*models.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, inline.InlineKeyboard, 1)
	require.Len(t, inline.InlineKeyboard[0], 2)
	assert.Equal(t, "rebook_yes_7", inline.InlineKeyboard[0][0].CallbackData)
}
