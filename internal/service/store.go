package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/engine"
	"github.com/grushin/orderbot/internal/model"
	"github.com/grushin/orderbot/internal/repository"
)

// Store реализует engine.Store поверх pgx-репозиториев.
// Каждый метод — один атомарный запрос, многооператорных транзакций
// контракт не требует.
type Store struct {
	userRepo        *repository.UserRepository
	sessionRepo     *repository.BookingSessionRepository
	orderRepo       *repository.OrderRepository
	evalRepo        *repository.EvaluationRepository
	evalSessionRepo *repository.EvaluationSessionRepository
	logger          *zap.Logger
}

func NewStore(
	userRepo *repository.UserRepository,
	sessionRepo *repository.BookingSessionRepository,
	orderRepo *repository.OrderRepository,
	evalRepo *repository.EvaluationRepository,
	evalSessionRepo *repository.EvaluationSessionRepository,
	logger *zap.Logger,
) *Store {
	return &Store{
		userRepo:        userRepo,
		sessionRepo:     sessionRepo,
		orderRepo:       orderRepo,
		evalRepo:        evalRepo,
		evalSessionRepo: evalSessionRepo,
		logger:          logger,
	}
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

func (s *Store) CreateBookingSession(ctx context.Context, session *model.BookingSession) error {
	return s.sessionRepo.Create(ctx, session)
}

func (s *Store) GetBookingSessionByID(ctx context.Context, id int64) (*model.BookingSession, error) {
	return s.sessionRepo.GetByID(ctx, id)
}

func (s *Store) GetActiveBookingSession(ctx context.Context, userID, merchantID int64) (*model.BookingSession, error) {
	return s.sessionRepo.GetActiveByPair(ctx, userID, merchantID)
}

func (s *Store) UpdateUserCourseStatus(ctx context.Context, sessionID int64, status model.CourseStatus) error {
	return s.sessionRepo.UpdateUserCourseStatus(ctx, sessionID, status)
}

func (s *Store) UpdateMerchantCourseStatus(ctx context.Context, sessionID int64, status model.CourseStatus) error {
	return s.sessionRepo.UpdateMerchantCourseStatus(ctx, sessionID, status)
}

func (s *Store) UpdateBookingSessionStatus(ctx context.Context, sessionID int64, status model.SessionStatus) error {
	return s.sessionRepo.UpdateStatus(ctx, sessionID, status)
}

func (s *Store) CreateOrder(ctx context.Context, order *model.Order) error {
	return s.orderRepo.Create(ctx, order)
}

func (s *Store) GetOrderBySessionID(ctx context.Context, sessionID int64) (*model.Order, error) {
	return s.orderRepo.GetBySessionID(ctx, sessionID)
}

func (s *Store) GetAttemptingOrder(ctx context.Context, userID, merchantID int64) (*model.Order, error) {
	return s.orderRepo.GetAttemptingByPair(ctx, userID, merchantID)
}

func (s *Store) UpdateOrderFields(ctx context.Context, orderID int64, upd engine.OrderUpdate) error {
	return s.orderRepo.UpdateFields(ctx, orderID, repository.OrderFieldUpdate{
		BookingSessionID:   upd.BookingSessionID,
		CourseType:         upd.CourseType,
		Status:             upd.Status,
		BookingTime:        upd.BookingTime,
		ConfirmedTime:      upd.ConfirmedTime,
		CompletedTime:      upd.CompletedTime,
		UserEvaluation:     upd.UserEvaluation,
		MerchantEvaluation: upd.MerchantEvaluation,
	})
}

func (s *Store) CreateEvaluation(ctx context.Context, eval *model.Evaluation) error {
	return s.evalRepo.Create(ctx, eval)
}

func (s *Store) GetEvaluationByID(ctx context.Context, id int64) (*model.Evaluation, error) {
	return s.evalRepo.GetByID(ctx, id)
}

func (s *Store) GetEvaluationBySession(ctx context.Context, sessionID int64, evaluator model.EvaluatorType) (*model.Evaluation, error) {
	return s.evalRepo.GetBySession(ctx, sessionID, evaluator)
}

func (s *Store) UpdateEvaluation(ctx context.Context, id int64, upd engine.EvaluationUpdate) error {
	return s.evalRepo.UpdateFields(ctx, id, repository.EvaluationFieldUpdate{
		OverallScore:   upd.OverallScore,
		DetailedScores: upd.DetailedScores,
		Comments:       upd.Comments,
		Status:         upd.Status,
	})
}

func (s *Store) SaveEvaluationSession(ctx context.Context, es *model.EvaluationSession) error {
	return s.evalSessionRepo.Upsert(ctx, es)
}

func (s *Store) GetEvaluationSessionAtStep(ctx context.Context, userID, evaluationID int64, step string) (*model.EvaluationSession, error) {
	return s.evalSessionRepo.GetAtStep(ctx, userID, evaluationID, step)
}

func (s *Store) DeleteEvaluationSession(ctx context.Context, id int64) error {
	return s.evalSessionRepo.Delete(ctx, id)
}
