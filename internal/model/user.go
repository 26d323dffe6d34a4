package model

import "time"

type User struct {
	ID          int64     `json:"id"`
	TelegramID  int64     `json:"telegram_id"`
	Username    string    `json:"username"`
	FirstName   string    `json:"first_name"`
	IsMerchant  bool      `json:"is_merchant"`
	ContactInfo string    `json:"contact_info"` // Контактная карточка мерчанта (показывается при отклике)
	CreatedAt   time.Time `json:"created_at"`
}
