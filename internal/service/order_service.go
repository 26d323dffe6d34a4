package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/model"
	"github.com/grushin/orderbot/internal/repository"
)

type OrderService struct {
	orderRepo *repository.OrderRepository
	logger    *zap.Logger
}

func NewOrderService(orderRepo *repository.OrderRepository, logger *zap.Logger) *OrderService {
	return &OrderService{
		orderRepo: orderRepo,
		logger:    logger,
	}
}

// GetUserOrders получает все заказы пользователя, новые первыми
func (s *OrderService) GetUserOrders(ctx context.Context, userID int64) ([]*model.Order, error) {
	orders, err := s.orderRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user orders: %w", err)
	}
	return orders, nil
}
