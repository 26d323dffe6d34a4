package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grushin/orderbot/internal/model"
	"github.com/grushin/orderbot/internal/repository/base"
)

type BookingSessionRepository struct {
	pool *pgxpool.Pool
}

func NewBookingSessionRepository(pool *pgxpool.Pool) *BookingSessionRepository {
	return &BookingSessionRepository{pool: pool}
}

// Create создаёт новую сессию записи
func (r *BookingSessionRepository) Create(ctx context.Context, session *model.BookingSession) error {
	query := `
		INSERT INTO booking_sessions (user_id, merchant_id, course_type, status, user_course_status, merchant_course_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(
		ctx, query,
		session.UserID,
		session.MerchantID,
		session.CourseType,
		session.Status,
		session.UserCourseStatus,
		session.MerchantCourseStatus,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)

	if err != nil {
		if base.IsUniqueViolation(err) {
			return fmt.Errorf("active session for pair %d/%d already exists: %w", session.UserID, session.MerchantID, err)
		}
		return fmt.Errorf("create booking session: %w", err)
	}

	return nil
}

// GetByID получает сессию по ID
func (r *BookingSessionRepository) GetByID(ctx context.Context, id int64) (*model.BookingSession, error) {
	query := `
		SELECT id, user_id, merchant_id, course_type, status, user_course_status, merchant_course_status, created_at, updated_at
		FROM booking_sessions
		WHERE id = $1
	`

	var session model.BookingSession
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.MerchantID,
		&session.CourseType,
		&session.Status,
		&session.UserCourseStatus,
		&session.MerchantCourseStatus,
		&session.CreatedAt,
		&session.UpdatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking session by id: %w", err)
	}

	return &session, nil
}

// GetActiveByPair получает нетерминальную сессию пары (пользователь, мерчант).
// По инварианту такая сессия может быть только одна.
func (r *BookingSessionRepository) GetActiveByPair(ctx context.Context, userID, merchantID int64) (*model.BookingSession, error) {
	query := `
		SELECT id, user_id, merchant_id, course_type, status, user_course_status, merchant_course_status, created_at, updated_at
		FROM booking_sessions
		WHERE user_id = $1 AND merchant_id = $2 AND status NOT IN ('completed', 'cancelled')
		LIMIT 1
	`

	var session model.BookingSession
	err := r.pool.QueryRow(ctx, query, userID, merchantID).Scan(
		&session.ID,
		&session.UserID,
		&session.MerchantID,
		&session.CourseType,
		&session.Status,
		&session.UserCourseStatus,
		&session.MerchantCourseStatus,
		&session.CreatedAt,
		&session.UpdatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active booking session: %w", err)
	}

	return &session, nil
}

// UpdateStatus обновляет статус сессии
func (r *BookingSessionRepository) UpdateStatus(ctx context.Context, id int64, status model.SessionStatus) error {
	query := `
		UPDATE booking_sessions
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update booking session status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("booking session not found")
	}

	return nil
}

// UpdateUserCourseStatus обновляет статус курса со стороны пользователя.
// Поле может менять только сторона пользователя.
func (r *BookingSessionRepository) UpdateUserCourseStatus(ctx context.Context, id int64, status model.CourseStatus) error {
	query := `
		UPDATE booking_sessions
		SET user_course_status = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update user course status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("booking session not found")
	}

	return nil
}

// UpdateMerchantCourseStatus обновляет статус курса со стороны мерчанта
func (r *BookingSessionRepository) UpdateMerchantCourseStatus(ctx context.Context, id int64, status model.CourseStatus) error {
	query := `
		UPDATE booking_sessions
		SET merchant_course_status = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update merchant course status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("booking session not found")
	}

	return nil
}
