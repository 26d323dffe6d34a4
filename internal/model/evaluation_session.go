package model

import "time"

// EvaluationSession — долговременная контрольная точка многошагового
// диалога оценки. Горячий снимок на каждый клик живёт в Redis,
// строка в базе фиксирует начало и текущий шаг.
type EvaluationSession struct {
	ID           int64          `json:"id"`
	UserID       int64          `json:"user_id"`
	EvaluationID int64          `json:"evaluation_id"`
	CurrentStep  string         `json:"current_step"`
	TempData     map[string]int `json:"temp_data"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Шаги диалога оценки.
const (
	EvalStepScoring   = "scoring"   // Выставление баллов по измерениям
	EvalStepOverall   = "overall"   // Общий балл (мерчантский путь)
	EvalStepComment   = "comment"   // Ожидание текстового комментария
	EvalStepBroadcast = "broadcast" // Выбор публикации
	EvalStepDone      = "done"
)
