package state

// UserState представляет текущее состояние пользователя в диалоге
type UserState string

const (
	StateNone UserState = "" // Нет активного состояния

	// Состояние ожидания текстового комментария к оценке
	StateAwaitingComment UserState = "awaiting_comment"
)

// Ключи временных данных диалога
const (
	DataEvaluationID = "evaluation_id"
)

// UserData хранит временные данные пользователя во время диалога
type UserData struct {
	State UserState
	Data  map[string]interface{} // Временные данные для текущего диалога
}
