package engine

import "errors"

// Ошибки движка. Контроллер разбирает их через errors.Is и превращает
// либо в тихий дроп, либо в видимое пользователю уведомление.
var (
	// ErrSessionNotFound — событие ссылается на несуществующую сессию,
	// заказ или оценку. Пользователю показывается "сессия устарела".
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTransition — действие недопустимо в текущем состоянии.
	// Ожидаемо при дублях и гонках доставки: логируется и тихо дропается.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrEvaluationIncomplete — попытка отправить оценку до того, как
	// проставлены все измерения. Блокирующее уведомление, не сбой.
	ErrEvaluationIncomplete = errors.New("evaluation incomplete")

	// ErrPersistence — отказ хранилища. Событие считается необработанным,
	// эффекты не выпускаются, пользователю предлагается повторить.
	ErrPersistence = errors.New("persistence failure")
)
