package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grushin/orderbot/internal/model"
	"github.com/grushin/orderbot/internal/repository/base"
)

// OrderFieldUpdate — частичное обновление заказа: nil-поля не трогаются
type OrderFieldUpdate struct {
	BookingSessionID   *int64
	CourseType         *model.CourseType
	Status             *model.OrderStatus
	BookingTime        *time.Time
	ConfirmedTime      *time.Time
	CompletedTime      *time.Time
	UserEvaluation     *string
	MerchantEvaluation *string
}

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, order_number, booking_session_id, user_id, merchant_id, course_type, course_content,
		price_range, status, booking_time, confirmed_time, completed_time, user_evaluation, merchant_evaluation,
		created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var order model.Order
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.BookingSessionID,
		&order.UserID,
		&order.MerchantID,
		&order.CourseType,
		&order.CourseContent,
		&order.PriceRange,
		&order.Status,
		&order.BookingTime,
		&order.ConfirmedTime,
		&order.CompletedTime,
		&order.UserEvaluation,
		&order.MerchantEvaluation,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Create создаёт новый заказ
func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	query := `
		INSERT INTO orders (order_number, booking_session_id, user_id, merchant_id, course_type, course_content, price_range, status, booking_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(
		ctx, query,
		order.OrderNumber,
		order.BookingSessionID,
		order.UserID,
		order.MerchantID,
		order.CourseType,
		order.CourseContent,
		order.PriceRange,
		order.Status,
		order.BookingTime,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	return nil
}

// GetByID получает заказ по ID
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1`, orderColumns)

	order, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}

	return order, nil
}

// GetBySessionID получает заказ, привязанный к сессии записи
func (r *OrderRepository) GetBySessionID(ctx context.Context, sessionID int64) (*model.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE booking_session_id = $1 LIMIT 1`, orderColumns)

	order, err := scanOrder(r.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by session: %w", err)
	}

	return order, nil
}

// GetAttemptingByPair получает висящий attempting-заказ пары
func (r *OrderRepository) GetAttemptingByPair(ctx context.Context, userID, merchantID int64) (*model.Order, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE user_id = $1 AND merchant_id = $2 AND status = 'attempting'
		ORDER BY created_at DESC
		LIMIT 1
	`, orderColumns)

	order, err := scanOrder(r.pool.QueryRow(ctx, query, userID, merchantID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get attempting order: %w", err)
	}

	return order, nil
}

// GetByUserID получает все заказы пользователя
func (r *OrderRepository) GetByUserID(ctx context.Context, userID int64) ([]*model.Order, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, orderColumns)

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get orders by user: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	return orders, nil
}

// UpdateFields применяет частичное обновление заказа одним атомарным запросом
func (r *OrderRepository) UpdateFields(ctx context.Context, id int64, upd OrderFieldUpdate) error {
	set := "updated_at = NOW()"
	args := []interface{}{id}
	n := 2

	add := func(column string, value interface{}) {
		set += fmt.Sprintf(", %s = $%d", column, n)
		args = append(args, value)
		n++
	}

	if upd.BookingSessionID != nil {
		add("booking_session_id", *upd.BookingSessionID)
	}
	if upd.CourseType != nil {
		add("course_type", *upd.CourseType)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.BookingTime != nil {
		add("booking_time", *upd.BookingTime)
	}
	if upd.ConfirmedTime != nil {
		add("confirmed_time", *upd.ConfirmedTime)
	}
	if upd.CompletedTime != nil {
		add("completed_time", *upd.CompletedTime)
	}
	if upd.UserEvaluation != nil {
		add("user_evaluation", *upd.UserEvaluation)
	}
	if upd.MerchantEvaluation != nil {
		add("merchant_evaluation", *upd.MerchantEvaluation)
	}

	query := fmt.Sprintf(`UPDATE orders SET %s WHERE id = $1`, set)

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order fields: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("order not found")
	}

	return nil
}
