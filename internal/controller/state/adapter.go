package state

import (
	"github.com/grushin/orderbot/internal/model"
)

// Adapter адаптирует Manager к интерфейсу gateway.AwaitRegistry:
// эффект AwaitInput превращается в диалоговое состояние.
type Adapter struct {
	sm *Manager
}

// NewAdapter создает адаптер для Manager
func NewAdapter(sm *Manager) *Adapter {
	return &Adapter{sm: sm}
}

// SetAwaiting помечает пользователя как ожидающего текстового ввода шага
func (a *Adapter) SetAwaiting(telegramID int64, step string, entityID int64) {
	switch step {
	case model.EvalStepComment:
		a.sm.SetState(telegramID, StateAwaitingComment)
		a.sm.SetData(telegramID, DataEvaluationID, entityID)
	default:
		// Неизвестный шаг не блокирует пользователя: состояние не ставим
	}
}

// Clear снимает пометку ожидания ввода
func (a *Adapter) Clear(telegramID int64) {
	a.sm.ClearState(telegramID)
}
