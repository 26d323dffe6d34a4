package model

import "time"

type EvaluatorType string

const (
	EvaluatorTypeUser     EvaluatorType = "user"
	EvaluatorTypeMerchant EvaluatorType = "merchant"
)

type EvaluationStatus string

const (
	EvaluationStatusPending          EvaluationStatus = "pending"
	EvaluationStatusOverallCompleted EvaluationStatus = "overall_completed" // Общий балл выставлен (мерчантский путь)
	EvaluationStatusDetailCompleted  EvaluationStatus = "detail_completed"  // Детальные баллы выставлены
	EvaluationStatusCompleted        EvaluationStatus = "completed"
)

// Двенадцать измерений детальной оценки: шесть "hardware" и шесть "software".
const (
	DimAppearance    = "appearance"
	DimFigure        = "figure"
	DimSkin          = "skin"
	DimStyle         = "style"
	DimHygiene       = "hygiene"
	DimPunctuality   = "punctuality"
	DimAttitude      = "attitude"
	DimCommunication = "communication"
	DimEnthusiasm    = "enthusiasm"
	DimSkill         = "skill"
	DimEnvironment   = "environment"
	DimValue         = "value"
)

// EvaluationDimensions перечисляет измерения в порядке отображения формы.
var EvaluationDimensions = []string{
	DimAppearance, DimFigure, DimSkin, DimStyle, DimHygiene, DimPunctuality,
	DimAttitude, DimCommunication, DimEnthusiasm, DimSkill, DimEnvironment, DimValue,
}

// DimensionCount — сколько измерений должно быть оценено перед отправкой.
const DimensionCount = 12

type Evaluation struct {
	ID               int64            `json:"id"`
	BookingSessionID int64            `json:"booking_session_id"`
	EvaluatorType    EvaluatorType    `json:"evaluator_type"`
	EvaluatorID      int64            `json:"evaluator_id"`
	TargetID         int64            `json:"target_id"`
	OverallScore     *int             `json:"overall_score"`
	DetailedScores   map[string]int   `json:"detailed_scores"`
	Comments         *string          `json:"comments"`
	Status           EvaluationStatus `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
