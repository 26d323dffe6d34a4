package model

import "time"

type OrderStatus string

const (
	OrderStatusAttempting OrderStatus = "attempting" // Пользователь запросил контакт мерчанта
	OrderStatusPending    OrderStatus = "pending"    // Курс выбран, ждём результат брони
	OrderStatusConfirmed  OrderStatus = "confirmed"  // Бронь удалась
	OrderStatusCompleted  OrderStatus = "completed"  // Курс завершён
	OrderStatusCancelled  OrderStatus = "cancelled"  // Отменён после неполного курса
	OrderStatusFailed     OrderStatus = "failed"     // Бронь не удалась
)

// IsTerminal сообщает, является ли статус поглощающим.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusFailed
}

// rank задаёт монотонный порядок статусов по основному пути.
// cancelled и failed достижимы из любого нетерминального статуса.
func (s OrderStatus) rank() int {
	switch s {
	case OrderStatusAttempting:
		return 0
	case OrderStatusPending:
		return 1
	case OrderStatusConfirmed:
		return 2
	case OrderStatusCompleted:
		return 3
	}
	return -1
}

// CanTransitionTo проверяет допустимость перехода статуса заказа.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == OrderStatusCancelled || next == OrderStatusFailed {
		return true
	}
	return next.rank() == s.rank()+1
}

type Order struct {
	ID                 int64       `json:"id"`
	OrderNumber        string      `json:"order_number"`
	BookingSessionID   *int64      `json:"booking_session_id"` // nil пока курс не выбран
	UserID             int64       `json:"user_id"`
	MerchantID         int64       `json:"merchant_id"`
	CourseType         CourseType  `json:"course_type"`
	CourseContent      string      `json:"course_content"`
	PriceRange         string      `json:"price_range"`
	Status             OrderStatus `json:"status"`
	BookingTime        *time.Time  `json:"booking_time"`
	ConfirmedTime      *time.Time  `json:"confirmed_time"`
	CompletedTime      *time.Time  `json:"completed_time"`
	UserEvaluation     *string     `json:"user_evaluation"`     // Сериализованный снимок оценки пользователя (write-once)
	MerchantEvaluation *string     `json:"merchant_evaluation"` // Сериализованный снимок оценки мерчанта (write-once)
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}
