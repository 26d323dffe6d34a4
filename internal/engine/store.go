package engine

import (
	"context"
	"time"

	"github.com/grushin/orderbot/internal/model"
)

// OrderUpdate — частичное обновление заказа. nil-поля не трогаются.
type OrderUpdate struct {
	BookingSessionID   *int64
	CourseType         *model.CourseType
	Status             *model.OrderStatus
	BookingTime        *time.Time
	ConfirmedTime      *time.Time
	CompletedTime      *time.Time
	UserEvaluation     *string
	MerchantEvaluation *string
}

// EvaluationUpdate — частичное обновление оценки. nil-поля не трогаются.
type EvaluationUpdate struct {
	OverallScore   *int
	DetailedScores map[string]int
	Comments       *string
	Status         *model.EvaluationStatus
}

// Store — узкий контракт хранилища, которым пользуется оркестратор.
// Каждый вызов — одна атомарная запись; многооператорных транзакций
// ядро не требует. Реализуется service.Store поверх pgx-репозиториев,
// в тестах — фейком в памяти.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)

	CreateBookingSession(ctx context.Context, s *model.BookingSession) error
	GetBookingSessionByID(ctx context.Context, id int64) (*model.BookingSession, error)
	// GetActiveBookingSession возвращает нетерминальную сессию пары, если есть
	GetActiveBookingSession(ctx context.Context, userID, merchantID int64) (*model.BookingSession, error)
	UpdateUserCourseStatus(ctx context.Context, sessionID int64, status model.CourseStatus) error
	UpdateMerchantCourseStatus(ctx context.Context, sessionID int64, status model.CourseStatus) error
	UpdateBookingSessionStatus(ctx context.Context, sessionID int64, status model.SessionStatus) error

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrderBySessionID(ctx context.Context, sessionID int64) (*model.Order, error)
	// GetAttemptingOrder возвращает заказ пары в статусе attempting, если есть
	GetAttemptingOrder(ctx context.Context, userID, merchantID int64) (*model.Order, error)
	UpdateOrderFields(ctx context.Context, orderID int64, upd OrderUpdate) error

	CreateEvaluation(ctx context.Context, e *model.Evaluation) error
	GetEvaluationByID(ctx context.Context, id int64) (*model.Evaluation, error)
	GetEvaluationBySession(ctx context.Context, sessionID int64, evaluator model.EvaluatorType) (*model.Evaluation, error)
	UpdateEvaluation(ctx context.Context, id int64, upd EvaluationUpdate) error

	SaveEvaluationSession(ctx context.Context, es *model.EvaluationSession) error
	GetEvaluationSessionAtStep(ctx context.Context, userID, evaluationID int64, step string) (*model.EvaluationSession, error)
	DeleteEvaluationSession(ctx context.Context, id int64) error
}
