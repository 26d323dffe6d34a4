package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grushin/orderbot/internal/model"
	"github.com/grushin/orderbot/internal/repository/base"
)

type EvaluationSessionRepository struct {
	pool *pgxpool.Pool
}

func NewEvaluationSessionRepository(pool *pgxpool.Pool) *EvaluationSessionRepository {
	return &EvaluationSessionRepository{pool: pool}
}

// Upsert сохраняет контрольную точку диалога оценки.
// На (пользователь, оценка) живёт не больше одной строки.
func (r *EvaluationSessionRepository) Upsert(ctx context.Context, es *model.EvaluationSession) error {
	query := `
		INSERT INTO evaluation_sessions (user_id, evaluation_id, current_step, temp_data)
		VALUES ($1, $2, $3, COALESCE($4, '{}'::jsonb))
		ON CONFLICT (user_id, evaluation_id)
		DO UPDATE SET current_step = EXCLUDED.current_step,
		              temp_data = EXCLUDED.temp_data,
		              updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(
		ctx, query,
		es.UserID,
		es.EvaluationID,
		es.CurrentStep,
		es.TempData,
	).Scan(&es.ID, &es.CreatedAt, &es.UpdatedAt)

	if err != nil {
		return fmt.Errorf("upsert evaluation session: %w", err)
	}

	return nil
}

// GetAtStep получает контрольную точку конкретной оценки на заданном шаге.
// Ключ (user_id, evaluation_id) уникален, поэтому параллельные диалоги
// оценок одного пользователя не перекрывают друг друга.
func (r *EvaluationSessionRepository) GetAtStep(ctx context.Context, userID, evaluationID int64, step string) (*model.EvaluationSession, error) {
	query := `
		SELECT id, user_id, evaluation_id, current_step, temp_data, created_at, updated_at
		FROM evaluation_sessions
		WHERE user_id = $1 AND evaluation_id = $2 AND current_step = $3
	`

	var es model.EvaluationSession
	err := r.pool.QueryRow(ctx, query, userID, evaluationID, step).Scan(
		&es.ID,
		&es.UserID,
		&es.EvaluationID,
		&es.CurrentStep,
		&es.TempData,
		&es.CreatedAt,
		&es.UpdatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get evaluation session: %w", err)
	}

	return &es, nil
}

// Delete удаляет контрольную точку по завершении диалога
func (r *EvaluationSessionRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM evaluation_sessions WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete evaluation session: %w", err)
	}

	return nil
}
