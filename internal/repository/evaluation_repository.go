package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grushin/orderbot/internal/model"
	"github.com/grushin/orderbot/internal/repository/base"
)

// EvaluationFieldUpdate — частичное обновление оценки: nil-поля не трогаются
type EvaluationFieldUpdate struct {
	OverallScore   *int
	DetailedScores map[string]int
	Comments       *string
	Status         *model.EvaluationStatus
}

type EvaluationRepository struct {
	pool *pgxpool.Pool
}

func NewEvaluationRepository(pool *pgxpool.Pool) *EvaluationRepository {
	return &EvaluationRepository{pool: pool}
}

const evaluationColumns = `id, booking_session_id, evaluator_type, evaluator_id, target_id,
		overall_score, detailed_scores, comments, status, created_at, updated_at`

func scanEvaluation(row pgx.Row) (*model.Evaluation, error) {
	var eval model.Evaluation
	err := row.Scan(
		&eval.ID,
		&eval.BookingSessionID,
		&eval.EvaluatorType,
		&eval.EvaluatorID,
		&eval.TargetID,
		&eval.OverallScore,
		&eval.DetailedScores,
		&eval.Comments,
		&eval.Status,
		&eval.CreatedAt,
		&eval.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &eval, nil
}

// Create создаёт новую оценку
func (r *EvaluationRepository) Create(ctx context.Context, eval *model.Evaluation) error {
	query := `
		INSERT INTO evaluations (booking_session_id, evaluator_type, evaluator_id, target_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(
		ctx, query,
		eval.BookingSessionID,
		eval.EvaluatorType,
		eval.EvaluatorID,
		eval.TargetID,
		eval.Status,
	).Scan(&eval.ID, &eval.CreatedAt, &eval.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create evaluation: %w", err)
	}

	return nil
}

// GetByID получает оценку по ID
func (r *EvaluationRepository) GetByID(ctx context.Context, id int64) (*model.Evaluation, error) {
	query := fmt.Sprintf(`SELECT %s FROM evaluations WHERE id = $1`, evaluationColumns)

	eval, err := scanEvaluation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get evaluation by id: %w", err)
	}

	return eval, nil
}

// GetBySession получает оценку по сессии и типу оценщика.
// По инварианту такая оценка может быть только одна.
func (r *EvaluationRepository) GetBySession(ctx context.Context, sessionID int64, evaluator model.EvaluatorType) (*model.Evaluation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM evaluations
		WHERE booking_session_id = $1 AND evaluator_type = $2
		LIMIT 1
	`, evaluationColumns)

	eval, err := scanEvaluation(r.pool.QueryRow(ctx, query, sessionID, evaluator))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get evaluation by session: %w", err)
	}

	return eval, nil
}

// UpdateFields применяет частичное обновление оценки одним атомарным запросом.
// overall_score никогда не сбрасывается в NULL: nil в OverallScore
// означает "не трогать", а не "очистить".
func (r *EvaluationRepository) UpdateFields(ctx context.Context, id int64, upd EvaluationFieldUpdate) error {
	set := "updated_at = NOW()"
	args := []interface{}{id}
	n := 2

	add := func(column string, value interface{}) {
		set += fmt.Sprintf(", %s = $%d", column, n)
		args = append(args, value)
		n++
	}

	if upd.OverallScore != nil {
		add("overall_score", *upd.OverallScore)
	}
	if upd.DetailedScores != nil {
		add("detailed_scores", upd.DetailedScores)
	}
	if upd.Comments != nil {
		add("comments", *upd.Comments)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}

	query := fmt.Sprintf(`UPDATE evaluations SET %s WHERE id = $1`, set)

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update evaluation fields: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("evaluation not found")
	}

	return nil
}
