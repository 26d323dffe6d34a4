package model

import "time"

type CourseType string

const (
	CourseTypeP     CourseType = "p"
	CourseTypePP    CourseType = "pp"
	CourseTypeOther CourseType = "other"
)

type SessionStatus string

const (
	SessionStatusNotified  SessionStatus = "notified"  // Мерчант уведомлён о записи
	SessionStatusPending   SessionStatus = "pending"   // Ожидает подтверждения брони
	SessionStatusConfirmed SessionStatus = "confirmed" // Бронь подтверждена
	SessionStatusCompleted SessionStatus = "completed" // Курс завершён обеими сторонами
	SessionStatusCancelled SessionStatus = "cancelled" // Отменено
)

type CourseStatus string

const (
	CourseStatusPending    CourseStatus = "pending"    // Сторона ещё не отчиталась
	CourseStatusCompleted  CourseStatus = "completed"  // Сторона подтвердила завершение
	CourseStatusIncomplete CourseStatus = "incomplete" // Сторона сообщила что курс не состоялся
)

// IsTerminal сообщает, завершена ли сессия.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCancelled
}

type BookingSession struct {
	ID                   int64         `json:"id"`
	UserID               int64         `json:"user_id"`
	MerchantID           int64         `json:"merchant_id"`
	CourseType           CourseType    `json:"course_type"`
	Status               SessionStatus `json:"status"`
	UserCourseStatus     CourseStatus  `json:"user_course_status"`
	MerchantCourseStatus CourseStatus  `json:"merchant_course_status"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}
