package handlers

import "github.com/grushin/orderbot/internal/model"

// OrderStatusDisplay представляет отображение статуса заказа
type OrderStatusDisplay struct {
	Emoji string
	Text  string
}

// GetOrderStatusDisplay возвращает emoji и текст для статуса заказа
func GetOrderStatusDisplay(status model.OrderStatus) OrderStatusDisplay {
	displays := map[model.OrderStatus]OrderStatusDisplay{
		model.OrderStatusAttempting: {"👀", "Интерес"},
		model.OrderStatusPending:    {"⏳", "Ожидает брони"},
		model.OrderStatusConfirmed:  {"✅", "Подтверждён"},
		model.OrderStatusCompleted:  {"✔️", "Завершён"},
		model.OrderStatusCancelled:  {"❌", "Отменён"},
		model.OrderStatusFailed:     {"🚫", "Бронь не удалась"},
	}

	if display, ok := displays[status]; ok {
		return display
	}

	return OrderStatusDisplay{"❓", "Неизвестно"}
}

// GetCourseLabel возвращает человекочитаемое название типа курса
func GetCourseLabel(course model.CourseType) string {
	labels := map[model.CourseType]string{
		model.CourseTypeP:     "Курс P",
		model.CourseTypePP:    "Курс PP",
		model.CourseTypeOther: "Другое",
	}

	if label, ok := labels[course]; ok {
		return label
	}
	return "Курс"
}
