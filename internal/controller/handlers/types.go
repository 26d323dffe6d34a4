package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/controller/state"
	"github.com/grushin/orderbot/internal/engine"
	"github.com/grushin/orderbot/internal/service"
)

// DispatchFunc прогоняет событие через конвейер оркестратора
type DispatchFunc func(ctx context.Context, ev engine.Event)

// Handlers содержит все зависимости для обработки команд
type Handlers struct {
	userService  *service.UserService
	orderService *service.OrderService
	stateManager *state.Manager
	dispatch     DispatchFunc
	logger       *zap.Logger
}

// NewHandlers создаёт новый обработчик команд
func NewHandlers(
	userService *service.UserService,
	orderService *service.OrderService,
	stateManager *state.Manager,
	dispatch DispatchFunc,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		userService:  userService,
		orderService: orderService,
		stateManager: stateManager,
		dispatch:     dispatch,
		logger:       logger,
	}
}
