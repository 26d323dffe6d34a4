package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/model"
)

// Orchestrator — машина состояний жизненного цикла сделки.
// Получает нормализованные события, сверяет их с состоянием в хранилище,
// применяет переход и возвращает декларативные эффекты. Никакого I/O,
// кроме вызовов Store, поэтому тестируется как функция
// (состояние, событие) -> (состояние', эффекты).
type Orchestrator struct {
	store  Store
	buffer *ScoreBuffer
	logger *zap.Logger

	completionDelay  time.Duration
	broadcastTimeout time.Duration
	now              func() time.Time
}

// NewOrchestrator создаёт оркестратор
func NewOrchestrator(
	store Store,
	buffer *ScoreBuffer,
	completionDelay time.Duration,
	broadcastTimeout time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:            store,
		buffer:           buffer,
		logger:           logger,
		completionDelay:  completionDelay,
		broadcastTimeout: broadcastTimeout,
		now:              time.Now,
	}
}

// Handle применяет переход для события. Повторная доставка уже
// применённого перехода — no-op без ошибки: платформа не гарантирует
// доставку не-более-одного-раза.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) ([]Effect, error) {
	switch ev.Action {
	case ActionAttempt:
		return o.handleAttempt(ctx, ev)
	case ActionChooseCourse:
		return o.handleChooseCourse(ctx, ev)
	case ActionBookingOutcome:
		return o.handleBookingOutcome(ctx, ev)
	case ActionCourseComplete:
		return o.handleCourseComplete(ctx, ev)
	case ActionCourseIncomplete:
		return o.handleCourseIncomplete(ctx, ev)
	case ActionRebookChoice:
		return o.handleRebookChoice(ctx, ev)
	case ActionEvalScore:
		return o.handleEvalScore(ctx, ev)
	case ActionEvalDimSelect:
		return o.handleEvalDimSelect(ctx, ev)
	case ActionEvalSubmit:
		return o.handleEvalSubmit(ctx, ev)
	case ActionTextComment:
		return o.handleTextComment(ctx, ev)
	case ActionBroadcastChoice:
		return o.handleBroadcastChoice(ctx, ev, ev.Broadcast)
	case ActionMerchantDetailChoice:
		return o.handleMerchantDetailChoice(ctx, ev)
	case ActionTimerCompletionCheck:
		return o.handleTimerCompletionCheck(ctx, ev)
	case ActionTimerBroadcast:
		return o.handleTimerBroadcast(ctx, ev)
	}
	return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, ev.Action)
}

// persistence помечает отказ хранилища: событие считается необработанным
func persistence(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrPersistence, err))
}

func newOrderNumber() string {
	return fmt.Sprintf("ORD-%s", uuid.NewString()[:8])
}

// handleAttempt — первый клик интереса: заказ в attempting + контакты мерчанта
func (o *Orchestrator) handleAttempt(ctx context.Context, ev Event) ([]Effect, error) {
	merchantID := ev.EntityID

	merchant, err := o.store.GetUserByID(ctx, merchantID)
	if err != nil {
		return nil, persistence("get merchant", err)
	}
	if merchant == nil || !merchant.IsMerchant {
		return nil, fmt.Errorf("merchant %d: %w", merchantID, ErrSessionNotFound)
	}

	// Пара уже в активной сессии — повторный интерес ничего не меняет
	active, err := o.store.GetActiveBookingSession(ctx, ev.ActorID, merchantID)
	if err != nil {
		return nil, persistence("get active session", err)
	}
	if active != nil {
		o.logger.Info("Attempt on pair with active session, dropping",
			zap.Int64("actor_id", ev.ActorID),
			zap.Int64("merchant_id", merchantID))
		return []Effect{AnswerCallback{}}, nil
	}

	// Переиспользуем висящий attempting-заказ вместо создания дубля
	order, err := o.store.GetAttemptingOrder(ctx, ev.ActorID, merchantID)
	if err != nil {
		return nil, persistence("get attempting order", err)
	}
	if order == nil {
		order = &model.Order{
			OrderNumber: newOrderNumber(),
			UserID:      ev.ActorID,
			MerchantID:  merchantID,
			Status:      model.OrderStatusAttempting,
		}
		if err := o.store.CreateOrder(ctx, order); err != nil {
			return nil, persistence("create order", err)
		}
		o.logger.Info("Order created",
			zap.Int64("order_id", order.ID),
			zap.String("order_number", order.OrderNumber),
			zap.Int64("user_id", ev.ActorID),
			zap.Int64("merchant_id", merchantID))
	}

	contact := merchant.ContactInfo
	if contact == "" {
		contact = fmt.Sprintf("Контакт мерчанта: %s", merchant.FirstName)
	}

	return []Effect{
		Notify{
			ActorID: ev.ActorID,
			Text:    fmt.Sprintf("📇 %s\n\nЗаказ: %s", contact, order.OrderNumber),
			Mode:    ModeAppend,
			Tag:     TagContactInfo,
		},
		Notify{
			ActorID:  ev.ActorID,
			Text:     "Какой курс вас интересует?",
			Keyboard: courseOptionsKeyboard(merchantID),
			Mode:     ModeReplace,
			Tag:      TagBookingOptions,
		},
		AnswerCallback{},
	}, nil
}

// handleChooseCourse — выбор курса: рождается BookingSession, заказ -> pending
func (o *Orchestrator) handleChooseCourse(ctx context.Context, ev Event) ([]Effect, error) {
	merchantID := ev.EntityID

	merchant, err := o.store.GetUserByID(ctx, merchantID)
	if err != nil {
		return nil, persistence("get merchant", err)
	}
	if merchant == nil || !merchant.IsMerchant {
		return nil, fmt.Errorf("merchant %d: %w", merchantID, ErrSessionNotFound)
	}

	// Инвариант: не больше одной нетерминальной сессии на пару
	active, err := o.store.GetActiveBookingSession(ctx, ev.ActorID, merchantID)
	if err != nil {
		return nil, persistence("get active session", err)
	}
	if active != nil {
		o.logger.Info("Course already chosen for pair, dropping",
			zap.Int64("actor_id", ev.ActorID),
			zap.Int64("session_id", active.ID))
		return []Effect{AnswerCallback{}}, nil
	}

	order, err := o.store.GetAttemptingOrder(ctx, ev.ActorID, merchantID)
	if err != nil {
		return nil, persistence("get attempting order", err)
	}
	if order == nil {
		// Кнопка выбора могла пережить рестарт без заказа — создаём
		order = &model.Order{
			OrderNumber: newOrderNumber(),
			UserID:      ev.ActorID,
			MerchantID:  merchantID,
			Status:      model.OrderStatusAttempting,
		}
		if err := o.store.CreateOrder(ctx, order); err != nil {
			return nil, persistence("create order", err)
		}
	}

	session := &model.BookingSession{
		UserID:               ev.ActorID,
		MerchantID:           merchantID,
		CourseType:           ev.Course,
		Status:               model.SessionStatusPending,
		UserCourseStatus:     model.CourseStatusPending,
		MerchantCourseStatus: model.CourseStatusPending,
	}
	if err := o.store.CreateBookingSession(ctx, session); err != nil {
		return nil, persistence("create booking session", err)
	}

	bookedAt := o.now()
	pending := model.OrderStatusPending
	if err := o.store.UpdateOrderFields(ctx, order.ID, OrderUpdate{
		BookingSessionID: &session.ID,
		CourseType:       &ev.Course,
		Status:           &pending,
		BookingTime:      &bookedAt,
	}); err != nil {
		return nil, persistence("update order", err)
	}

	o.logger.Info("Course chosen",
		zap.Int64("session_id", session.ID),
		zap.Int64("order_id", order.ID),
		zap.String("course_type", string(ev.Course)))

	user, err := o.store.GetUserByID(ctx, ev.ActorID)
	if err != nil {
		return nil, persistence("get user", err)
	}
	userName := "клиент"
	if user != nil {
		userName = user.FirstName
	}

	return []Effect{
		Notify{
			ActorID: merchantID,
			Text: fmt.Sprintf("🔔 Новая запись!\n\n👤 %s\n📚 %s\n📦 Заказ: %s",
				userName, courseLabel(ev.Course), order.OrderNumber),
			Mode: ModeAppend,
			Tag:  TagNotice,
		},
		Notify{
			ActorID: ev.ActorID,
			Text: fmt.Sprintf("📚 %s выбран.\n\nСвяжитесь с мерчантом и договоритесь о времени. Получилось?",
				courseLabel(ev.Course)),
			Keyboard: bookingOutcomeKeyboard(session.ID),
			Mode:     ModeReplace,
			Tag:      TagBookingOutcome,
		},
		AnswerCallback{Text: "✅ Курс выбран"},
	}, nil
}

// handleBookingOutcome — пользователь сообщает, удалась ли бронь
func (o *Orchestrator) handleBookingOutcome(ctx context.Context, ev Event) ([]Effect, error) {
	session, err := o.store.GetBookingSessionByID(ctx, ev.EntityID)
	if err != nil {
		return nil, persistence("get session", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %d: %w", ev.EntityID, ErrSessionNotFound)
	}
	if session.UserID != ev.ActorID {
		return nil, fmt.Errorf("actor %d is not the session user: %w", ev.ActorID, ErrInvalidTransition)
	}

	order, err := o.store.GetOrderBySessionID(ctx, session.ID)
	if err != nil {
		return nil, persistence("get order", err)
	}
	if order == nil {
		return nil, fmt.Errorf("order for session %d: %w", session.ID, ErrSessionNotFound)
	}

	if ev.Success {
		if order.Status == model.OrderStatusConfirmed {
			return []Effect{AnswerCallback{}}, nil // повторная доставка
		}
		if !order.Status.CanTransitionTo(model.OrderStatusConfirmed) {
			return nil, fmt.Errorf("order %d is %s: %w", order.ID, order.Status, ErrInvalidTransition)
		}

		confirmedAt := o.now()
		confirmed := model.OrderStatusConfirmed
		if err := o.store.UpdateOrderFields(ctx, order.ID, OrderUpdate{
			Status:        &confirmed,
			ConfirmedTime: &confirmedAt,
		}); err != nil {
			return nil, persistence("update order", err)
		}
		if err := o.store.UpdateBookingSessionStatus(ctx, session.ID, model.SessionStatusConfirmed); err != nil {
			return nil, persistence("update session", err)
		}

		o.logger.Info("Booking confirmed",
			zap.Int64("session_id", session.ID),
			zap.Int64("order_id", order.ID))

		return []Effect{
			ArmTimer{ActorID: session.UserID, Purpose: PurposeCompletionCheck, Delay: o.completionDelay, EntityID: session.ID},
			ArmTimer{ActorID: session.MerchantID, Purpose: PurposeCompletionCheck, Delay: o.completionDelay, EntityID: session.ID},
			Notify{
				ActorID: session.UserID,
				Text:    "✅ Бронь подтверждена. После курса мы спросим, как всё прошло.",
				Mode:    ModeAppend,
				Tag:     TagNotice,
			},
			Notify{
				ActorID: session.MerchantID,
				Text:    fmt.Sprintf("✅ Бронь по заказу %s подтверждена клиентом.", order.OrderNumber),
				Mode:    ModeAppend,
				Tag:     TagNotice,
			},
			AnswerCallback{Text: "✅ Отлично"},
		}, nil
	}

	// Бронь не удалась
	if order.Status == model.OrderStatusFailed {
		return []Effect{AnswerCallback{}}, nil
	}
	if !order.Status.CanTransitionTo(model.OrderStatusFailed) {
		return nil, fmt.Errorf("order %d is %s: %w", order.ID, order.Status, ErrInvalidTransition)
	}

	failed := model.OrderStatusFailed
	if err := o.store.UpdateOrderFields(ctx, order.ID, OrderUpdate{Status: &failed}); err != nil {
		return nil, persistence("update order", err)
	}
	if err := o.store.UpdateBookingSessionStatus(ctx, session.ID, model.SessionStatusCancelled); err != nil {
		return nil, persistence("update session", err)
	}

	o.logger.Info("Booking failed",
		zap.Int64("session_id", session.ID),
		zap.Int64("order_id", order.ID))

	return []Effect{
		Notify{
			ActorID:  session.UserID,
			Text:     "😔 Жаль, что не вышло. Попробовать записаться заново?",
			Keyboard: rebookKeyboard(session.ID),
			Mode:     ModeReplace,
			Tag:      TagRebookChoice,
		},
		AnswerCallback{},
	}, nil
}

// handleTimerCompletionCheck — срабатывание таймера проверки завершения.
// Перед эффектами перечитывает состояние: если актор уже отчитался,
// таймер превращается в no-op.
func (o *Orchestrator) handleTimerCompletionCheck(ctx context.Context, ev Event) ([]Effect, error) {
	session, err := o.store.GetBookingSessionByID(ctx, ev.EntityID)
	if err != nil {
		return nil, persistence("get session", err)
	}
	if session == nil || session.Status != model.SessionStatusConfirmed {
		return nil, nil
	}

	var side model.CourseStatus
	switch ev.ActorID {
	case session.UserID:
		side = session.UserCourseStatus
	case session.MerchantID:
		side = session.MerchantCourseStatus
	default:
		return nil, nil
	}
	if side != model.CourseStatusPending {
		return nil, nil
	}

	return []Effect{
		Notify{
			ActorID:  ev.ActorID,
			Text:     "🎓 Курс должен был пройти. Всё состоялось?",
			Keyboard: completionCheckKeyboard(session.ID),
			Mode:     ModeReplace,
			Tag:      TagCompletionCheck,
		},
	}, nil
}

// sideStatus возвращает статус курса стороны актора
func sideStatus(session *model.BookingSession, actorID int64) (model.CourseStatus, bool) {
	switch actorID {
	case session.UserID:
		return session.UserCourseStatus, true
	case session.MerchantID:
		return session.MerchantCourseStatus, true
	}
	return "", false
}

// updateSideStatus пишет статус курса стороны актора
func (o *Orchestrator) updateSideStatus(ctx context.Context, session *model.BookingSession, actorID int64, status model.CourseStatus) error {
	if actorID == session.UserID {
		return o.store.UpdateUserCourseStatus(ctx, session.ID, status)
	}
	return o.store.UpdateMerchantCourseStatus(ctx, session.ID, status)
}

// handleCourseComplete — сторона подтверждает завершение курса.
// Стороны отчитываются независимо; подтвердившая сразу уходит
// в свой поток оценки, не дожидаясь второй.
func (o *Orchestrator) handleCourseComplete(ctx context.Context, ev Event) ([]Effect, error) {
	session, err := o.store.GetBookingSessionByID(ctx, ev.EntityID)
	if err != nil {
		return nil, persistence("get session", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %d: %w", ev.EntityID, ErrSessionNotFound)
	}

	side, ok := sideStatus(session, ev.ActorID)
	if !ok {
		return nil, fmt.Errorf("actor %d not in session %d: %w", ev.ActorID, session.ID, ErrInvalidTransition)
	}
	if side == model.CourseStatusCompleted {
		return []Effect{AnswerCallback{}}, nil // повторная доставка
	}
	if side == model.CourseStatusIncomplete {
		return nil, fmt.Errorf("side already reported incomplete: %w", ErrInvalidTransition)
	}
	if session.Status != model.SessionStatusConfirmed {
		return nil, fmt.Errorf("session %d is %s: %w", session.ID, session.Status, ErrInvalidTransition)
	}

	if err := o.updateSideStatus(ctx, session, ev.ActorID, model.CourseStatusCompleted); err != nil {
		return nil, persistence("update course status", err)
	}

	effects := []Effect{
		CancelTimer{ActorID: ev.ActorID, Purpose: PurposeCompletionCheck},
	}

	// Перечитываем сессию: встречное подтверждение могло записаться
	// между нашим чтением и записью, и тогда финализировать должны мы
	fresh, err := o.store.GetBookingSessionByID(ctx, session.ID)
	if err != nil {
		return nil, persistence("get session", err)
	}
	if fresh != nil {
		session = fresh
	}

	// Обе стороны подтвердили — заказ и сессия завершаются
	other, _ := sideStatus(session, otherParty(session, ev.ActorID))
	if other == model.CourseStatusCompleted {
		order, err := o.store.GetOrderBySessionID(ctx, session.ID)
		if err != nil {
			return nil, persistence("get order", err)
		}
		if order != nil && order.Status.CanTransitionTo(model.OrderStatusCompleted) {
			completedAt := o.now()
			completed := model.OrderStatusCompleted
			if err := o.store.UpdateOrderFields(ctx, order.ID, OrderUpdate{
				Status:        &completed,
				CompletedTime: &completedAt,
			}); err != nil {
				return nil, persistence("update order", err)
			}
		}
		if err := o.store.UpdateBookingSessionStatus(ctx, session.ID, model.SessionStatusCompleted); err != nil {
			return nil, persistence("update session", err)
		}
		o.logger.Info("Course completed by both parties", zap.Int64("session_id", session.ID))
	}

	evalEffects, err := o.startEvaluation(ctx, session, ev.ActorID)
	if err != nil {
		return nil, err
	}
	effects = append(effects, evalEffects...)
	effects = append(effects, AnswerCallback{Text: "✅ Принято"})
	return effects, nil
}

func otherParty(session *model.BookingSession, actorID int64) int64 {
	if actorID == session.UserID {
		return session.MerchantID
	}
	return session.UserID
}

// startEvaluation заводит оценку для актора и открывает его поток:
// пользователю — форму 12 измерений, мерчанту — общий балл.
func (o *Orchestrator) startEvaluation(ctx context.Context, session *model.BookingSession, actorID int64) ([]Effect, error) {
	evaluatorType := model.EvaluatorTypeUser
	step := model.EvalStepScoring
	if actorID == session.MerchantID {
		evaluatorType = model.EvaluatorTypeMerchant
		step = model.EvalStepOverall
	}

	// Не больше одной оценки на (сессия, тип оценщика)
	eval, err := o.store.GetEvaluationBySession(ctx, session.ID, evaluatorType)
	if err != nil {
		return nil, persistence("get evaluation", err)
	}
	if eval == nil {
		eval = &model.Evaluation{
			BookingSessionID: session.ID,
			EvaluatorType:    evaluatorType,
			EvaluatorID:      actorID,
			TargetID:         otherParty(session, actorID),
			Status:           model.EvaluationStatusPending,
		}
		if err := o.store.CreateEvaluation(ctx, eval); err != nil {
			return nil, persistence("create evaluation", err)
		}
	}

	if err := o.store.SaveEvaluationSession(ctx, &model.EvaluationSession{
		UserID:       actorID,
		EvaluationID: eval.ID,
		CurrentStep:  step,
	}); err != nil {
		return nil, persistence("save evaluation session", err)
	}

	o.logger.Info("Evaluation started",
		zap.Int64("evaluation_id", eval.ID),
		zap.Int64("actor_id", actorID),
		zap.String("evaluator_type", string(evaluatorType)))

	if evaluatorType == model.EvaluatorTypeMerchant {
		return []Effect{
			Notify{
				ActorID:  actorID,
				Text:     "⭐ Оцените клиента от 1 до 10:",
				Keyboard: overallScoreKeyboard(eval.ID),
				Mode:     ModeReplace,
				Tag:      TagEvaluationForm,
			},
		}, nil
	}

	draft := o.buffer.Begin(ctx, actorID, eval.ID)
	text, keyboard := renderEvalForm(draft)
	return []Effect{
		Notify{
			ActorID:  actorID,
			Text:     text,
			Keyboard: keyboard,
			Mode:     ModeReplace,
			Tag:      TagEvaluationForm,
		},
	}, nil
}

// handleCourseIncomplete — сторона сообщает, что курс не состоялся
func (o *Orchestrator) handleCourseIncomplete(ctx context.Context, ev Event) ([]Effect, error) {
	session, err := o.store.GetBookingSessionByID(ctx, ev.EntityID)
	if err != nil {
		return nil, persistence("get session", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %d: %w", ev.EntityID, ErrSessionNotFound)
	}

	side, ok := sideStatus(session, ev.ActorID)
	if !ok {
		return nil, fmt.Errorf("actor %d not in session %d: %w", ev.ActorID, session.ID, ErrInvalidTransition)
	}
	if side == model.CourseStatusIncomplete {
		return []Effect{AnswerCallback{}}, nil
	}
	if side == model.CourseStatusCompleted {
		return nil, fmt.Errorf("side already reported completed: %w", ErrInvalidTransition)
	}
	if session.Status != model.SessionStatusConfirmed {
		return nil, fmt.Errorf("session %d is %s: %w", session.ID, session.Status, ErrInvalidTransition)
	}

	if err := o.updateSideStatus(ctx, session, ev.ActorID, model.CourseStatusIncomplete); err != nil {
		return nil, persistence("update course status", err)
	}
	if err := o.store.UpdateBookingSessionStatus(ctx, session.ID, model.SessionStatusCancelled); err != nil {
		return nil, persistence("update session", err)
	}

	o.logger.Info("Course reported incomplete",
		zap.Int64("session_id", session.ID),
		zap.Int64("actor_id", ev.ActorID))

	return []Effect{
		CancelTimer{ActorID: ev.ActorID, Purpose: PurposeCompletionCheck},
		Notify{
			ActorID:  ev.ActorID,
			Text:     "Курс не состоялся. Записаться заново?",
			Keyboard: rebookKeyboard(session.ID),
			Mode:     ModeReplace,
			Tag:      TagRebookChoice,
		},
		AnswerCallback{},
	}, nil
}

// handleRebookChoice — после срыва: новая пара сессия+заказ или отмена
func (o *Orchestrator) handleRebookChoice(ctx context.Context, ev Event) ([]Effect, error) {
	old, err := o.store.GetBookingSessionByID(ctx, ev.EntityID)
	if err != nil {
		return nil, persistence("get session", err)
	}
	if old == nil {
		return nil, fmt.Errorf("session %d: %w", ev.EntityID, ErrSessionNotFound)
	}
	if _, ok := sideStatus(old, ev.ActorID); !ok {
		return nil, fmt.Errorf("actor %d not in session %d: %w", ev.ActorID, old.ID, ErrInvalidTransition)
	}

	oldOrder, err := o.store.GetOrderBySessionID(ctx, old.ID)
	if err != nil {
		return nil, persistence("get order", err)
	}

	if !ev.Choice {
		// Нет — заказ отменяется, если ещё жив
		if oldOrder != nil && oldOrder.Status.CanTransitionTo(model.OrderStatusCancelled) {
			cancelled := model.OrderStatusCancelled
			if err := o.store.UpdateOrderFields(ctx, oldOrder.ID, OrderUpdate{Status: &cancelled}); err != nil {
				return nil, persistence("update order", err)
			}
		}
		return []Effect{
			Notify{
				ActorID: ev.ActorID,
				Text:    "Хорошо. Возвращайтесь, когда будет нужно!",
				Mode:    ModeReplace,
				Tag:     TagNotice,
			},
			AnswerCallback{},
		}, nil
	}

	// Да — свежая пара сессия+заказ. Старый нетерминальный заказ закрываем.
	active, err := o.store.GetActiveBookingSession(ctx, old.UserID, old.MerchantID)
	if err != nil {
		return nil, persistence("get active session", err)
	}
	if active != nil {
		return []Effect{AnswerCallback{}}, nil // уже перезаписались
	}

	if oldOrder != nil && oldOrder.Status.CanTransitionTo(model.OrderStatusCancelled) {
		cancelled := model.OrderStatusCancelled
		if err := o.store.UpdateOrderFields(ctx, oldOrder.ID, OrderUpdate{Status: &cancelled}); err != nil {
			return nil, persistence("update order", err)
		}
	}

	session := &model.BookingSession{
		UserID:               old.UserID,
		MerchantID:           old.MerchantID,
		CourseType:           old.CourseType,
		Status:               model.SessionStatusPending,
		UserCourseStatus:     model.CourseStatusPending,
		MerchantCourseStatus: model.CourseStatusPending,
	}
	if err := o.store.CreateBookingSession(ctx, session); err != nil {
		return nil, persistence("create booking session", err)
	}

	bookedAt := o.now()
	order := &model.Order{
		OrderNumber:      newOrderNumber(),
		BookingSessionID: &session.ID,
		UserID:           old.UserID,
		MerchantID:       old.MerchantID,
		CourseType:       old.CourseType,
		Status:           model.OrderStatusPending,
		BookingTime:      &bookedAt,
	}
	if err := o.store.CreateOrder(ctx, order); err != nil {
		return nil, persistence("create order", err)
	}

	o.logger.Info("Rebooked",
		zap.Int64("old_session_id", old.ID),
		zap.Int64("new_session_id", session.ID),
		zap.Int64("new_order_id", order.ID))

	return []Effect{
		Notify{
			ActorID: old.MerchantID,
			Text:    fmt.Sprintf("🔔 Повторная запись, заказ %s (%s).", order.OrderNumber, courseLabel(order.CourseType)),
			Mode:    ModeAppend,
			Tag:     TagNotice,
		},
		Notify{
			ActorID:  old.UserID,
			Text:     "🔄 Новая запись создана. Свяжитесь с мерчантом и сообщите результат.",
			Keyboard: bookingOutcomeKeyboard(session.ID),
			Mode:     ModeReplace,
			Tag:      TagBookingOutcome,
		},
		AnswerCallback{Text: "🔄 Записаны заново"},
	}, nil
}

// handleEvalScore — балл измерения (детальный) или общий балл мерчанта.
// Идёт в обход защиты от дублей: повторный балл — чистая перезапись.
func (o *Orchestrator) handleEvalScore(ctx context.Context, ev Event) ([]Effect, error) {
	eval, err := o.store.GetEvaluationByID(ctx, ev.EntityID)
	if err != nil {
		return nil, persistence("get evaluation", err)
	}
	if eval == nil {
		return nil, fmt.Errorf("evaluation %d: %w", ev.EntityID, ErrSessionNotFound)
	}
	if eval.EvaluatorID != ev.ActorID {
		return nil, fmt.Errorf("actor %d is not the evaluator: %w", ev.ActorID, ErrInvalidTransition)
	}

	if ev.Dimension != "" {
		if _, known := dimLabels[ev.Dimension]; !known {
			return nil, fmt.Errorf("unknown dimension %q: %w", ev.Dimension, ErrInvalidTransition)
		}

		draft := o.buffer.Begin(ctx, ev.ActorID, eval.ID)
		if _, err := o.buffer.SetScore(ctx, ev.ActorID, ev.Dimension, ev.Value); err != nil {
			return nil, err
		}
		o.buffer.SelectDim(ev.ActorID, "") // схлопываем ряд баллов

		text, keyboard := renderEvalForm(draft)
		return []Effect{
			Notify{
				ActorID:  ev.ActorID,
				Text:     text,
				Keyboard: keyboard,
				Mode:     ModeEdit,
				Tag:      TagEvaluationForm,
			},
			AnswerCallback{},
		}, nil
	}

	// Общий балл — мерчантский путь
	if eval.EvaluatorType != model.EvaluatorTypeMerchant {
		return nil, fmt.Errorf("overall score on user evaluation: %w", ErrInvalidTransition)
	}

	// Балл принимается только пока оценка не ушла дальше общего шага:
	// повторная доставка после завершения не откатывает статус
	switch eval.Status {
	case model.EvaluationStatusPending, model.EvaluationStatusOverallCompleted:
	default:
		return []Effect{AnswerCallback{}}, nil // повторная доставка
	}

	overallCompleted := model.EvaluationStatusOverallCompleted
	if err := o.store.UpdateEvaluation(ctx, eval.ID, EvaluationUpdate{
		OverallScore: &ev.Value,
		Status:       &overallCompleted,
	}); err != nil {
		return nil, persistence("update evaluation", err)
	}

	return []Effect{
		Notify{
			ActorID:  ev.ActorID,
			Text:     fmt.Sprintf("⭐ Общий балл: %d/10.\n\nХотите оценить подробнее?", ev.Value),
			Keyboard: merchantDetailKeyboard(eval.ID),
			Mode:     ModeEdit,
			Tag:      TagEvaluationForm,
		},
		AnswerCallback{},
	}, nil
}

// handleEvalDimSelect — чисто презентационный клик: раскрыть ряд баллов
func (o *Orchestrator) handleEvalDimSelect(ctx context.Context, ev Event) ([]Effect, error) {
	eval, err := o.store.GetEvaluationByID(ctx, ev.EntityID)
	if err != nil {
		return nil, persistence("get evaluation", err)
	}
	if eval == nil {
		return nil, fmt.Errorf("evaluation %d: %w", ev.EntityID, ErrSessionNotFound)
	}
	if _, known := dimLabels[ev.Dimension]; !known {
		return nil, fmt.Errorf("unknown dimension %q: %w", ev.Dimension, ErrInvalidTransition)
	}

	draft := o.buffer.Begin(ctx, ev.ActorID, eval.ID)
	o.buffer.SelectDim(ev.ActorID, ev.Dimension)

	text, keyboard := renderEvalForm(draft)
	return []Effect{
		Notify{
			ActorID:  ev.ActorID,
			Text:     text,
			Keyboard: keyboard,
			Mode:     ModeEdit,
			Tag:      TagEvaluationForm,
		},
		AnswerCallback{},
	}, nil
}

// handleEvalSubmit — отправка формы. Валидна только при 12 из 12;
// иначе блокирующее уведомление без какой-либо мутации.
func (o *Orchestrator) handleEvalSubmit(ctx context.Context, ev Event) ([]Effect, error) {
	eval, err := o.store.GetEvaluationByID(ctx, ev.EntityID)
	if err != nil {
		return nil, persistence("get evaluation", err)
	}
	if eval == nil {
		return nil, fmt.Errorf("evaluation %d: %w", ev.EntityID, ErrSessionNotFound)
	}
	if eval.EvaluatorID != ev.ActorID {
		return nil, fmt.Errorf("actor %d is not the evaluator: %w", ev.ActorID, ErrInvalidTransition)
	}
	if eval.Status == model.EvaluationStatusCompleted {
		return []Effect{AnswerCallback{}}, nil // повторная доставка
	}

	draft := o.buffer.Begin(ctx, ev.ActorID, eval.ID)
	if err := draft.Validate(); err != nil {
		if !errors.Is(err, ErrEvaluationIncomplete) {
			return nil, err
		}
		// Неполная форма — блокирующее уведомление без мутаций
		return []Effect{
			AnswerCallback{
				Text:  fmt.Sprintf("⚠️ Заполнено %d из %d параметров", draft.CompletedCount(), model.DimensionCount),
				Alert: true,
			},
		}, nil
	}

	scores := make(map[string]int, len(draft.Scores))
	for dim, v := range draft.Scores {
		scores[dim] = v
	}
	detailCompleted := model.EvaluationStatusDetailCompleted
	if err := o.store.UpdateEvaluation(ctx, eval.ID, EvaluationUpdate{
		DetailedScores: scores,
		Status:         &detailCompleted,
	}); err != nil {
		return nil, persistence("update evaluation", err)
	}

	if err := o.advanceEvalStep(ctx, ev.ActorID, eval.ID, model.EvalStepComment, scores); err != nil {
		return nil, err
	}

	o.logger.Info("Evaluation scores submitted",
		zap.Int64("evaluation_id", eval.ID),
		zap.Int64("actor_id", ev.ActorID))

	return []Effect{
		Notify{
			ActorID:  ev.ActorID,
			Text:     "💬 Пара слов о впечатлениях? Напишите сообщением или пропустите.",
			Keyboard: commentSkipKeyboard(eval.ID),
			Mode:     ModeReplace,
			Tag:      TagCommentPrompt,
		},
		AwaitInput{ActorID: ev.ActorID, Step: model.EvalStepComment, EntityID: eval.ID},
		AnswerCallback{Text: "✅ Оценка сохранена"},
	}, nil
}

// advanceEvalStep переводит контрольную точку диалога оценки на новый шаг
func (o *Orchestrator) advanceEvalStep(ctx context.Context, actorID, evalID int64, step string, tempData map[string]int) error {
	es := &model.EvaluationSession{
		UserID:       actorID,
		EvaluationID: evalID,
		CurrentStep:  step,
		TempData:     tempData,
	}
	if err := o.store.SaveEvaluationSession(ctx, es); err != nil {
		return persistence("save evaluation session", err)
	}
	return nil
}

// evalSnapshot — сериализуемый снимок для write-once поля заказа
type evalSnapshot struct {
	OverallScore   *int           `json:"overall_score,omitempty"`
	DetailedScores map[string]int `json:"detailed_scores,omitempty"`
	Comments       *string        `json:"comments,omitempty"`
}

// handleTextComment — свободный комментарий (или его пропуск),
// затем выбор публикации с таймаутом автопубликации.
func (o *Orchestrator) handleTextComment(ctx context.Context, ev Event) ([]Effect, error) {
	eval, err := o.store.GetEvaluationByID(ctx, ev.EntityID)
	if err != nil {
		return nil, persistence("get evaluation", err)
	}
	if eval == nil {
		return nil, fmt.Errorf("evaluation %d: %w", ev.EntityID, ErrSessionNotFound)
	}
	if eval.EvaluatorID != ev.ActorID {
		return nil, fmt.Errorf("actor %d is not the evaluator: %w", ev.ActorID, ErrInvalidTransition)
	}
	if eval.Status == model.EvaluationStatusCompleted {
		return []Effect{AnswerCallback{}}, nil // повторная доставка
	}

	completed := model.EvaluationStatusCompleted
	upd := EvaluationUpdate{Status: &completed}
	if !ev.Skip {
		comment := ev.RawText
		upd.Comments = &comment
		eval.Comments = &comment
	}
	if err := o.store.UpdateEvaluation(ctx, eval.ID, upd); err != nil {
		return nil, persistence("update evaluation", err)
	}

	// Снимок в заказ — write-once со стороны оценщика
	if err := o.flushSnapshotToOrder(ctx, eval); err != nil {
		return nil, err
	}

	if err := o.advanceEvalStep(ctx, ev.ActorID, eval.ID, model.EvalStepBroadcast, nil); err != nil {
		return nil, err
	}

	o.buffer.Clear(ctx, ev.ActorID)

	return []Effect{
		ClearAwaitInput{ActorID: ev.ActorID},
		Notify{
			ActorID:  ev.ActorID,
			Text:     "📢 Опубликовать итог сделки в канале?\n\nБез ответа публикация произойдёт автоматически и анонимно.",
			Keyboard: broadcastChoiceKeyboard(eval.ID),
			Mode:     ModeReplace,
			Tag:      TagBroadcastChoice,
		},
		ArmTimer{ActorID: ev.ActorID, Purpose: PurposeBroadcastChoice, Delay: o.broadcastTimeout, EntityID: eval.ID},
		AnswerCallback{},
	}, nil
}

// flushSnapshotToOrder пишет снимок оценки в поле заказа своей стороны.
// Поле write-once: уже заполненное не перезаписывается.
func (o *Orchestrator) flushSnapshotToOrder(ctx context.Context, eval *model.Evaluation) error {
	order, err := o.store.GetOrderBySessionID(ctx, eval.BookingSessionID)
	if err != nil {
		return persistence("get order", err)
	}
	if order == nil {
		return nil
	}

	fresh, err := o.store.GetEvaluationByID(ctx, eval.ID)
	if err != nil {
		return persistence("get evaluation", err)
	}
	if fresh == nil {
		fresh = eval
	}

	raw, err := json.Marshal(evalSnapshot{
		OverallScore:   fresh.OverallScore,
		DetailedScores: fresh.DetailedScores,
		Comments:       fresh.Comments,
	})
	if err != nil {
		return fmt.Errorf("marshal evaluation snapshot: %w", err)
	}
	snapshot := string(raw)

	var upd OrderUpdate
	if eval.EvaluatorType == model.EvaluatorTypeUser {
		if order.UserEvaluation != nil {
			return nil
		}
		upd.UserEvaluation = &snapshot
	} else {
		if order.MerchantEvaluation != nil {
			return nil
		}
		upd.MerchantEvaluation = &snapshot
	}

	if err := o.store.UpdateOrderFields(ctx, order.ID, upd); err != nil {
		return persistence("update order", err)
	}
	return nil
}

// handleMerchantDetailChoice — мерчант решает, оценивать ли подробно
func (o *Orchestrator) handleMerchantDetailChoice(ctx context.Context, ev Event) ([]Effect, error) {
	eval, err := o.store.GetEvaluationByID(ctx, ev.EntityID)
	if err != nil {
		return nil, persistence("get evaluation", err)
	}
	if eval == nil {
		return nil, fmt.Errorf("evaluation %d: %w", ev.EntityID, ErrSessionNotFound)
	}
	if eval.EvaluatorID != ev.ActorID || eval.EvaluatorType != model.EvaluatorTypeMerchant {
		return nil, fmt.Errorf("actor %d is not the merchant evaluator: %w", ev.ActorID, ErrInvalidTransition)
	}
	if eval.Status != model.EvaluationStatusOverallCompleted {
		return nil, fmt.Errorf("evaluation %d is %s: %w", eval.ID, eval.Status, ErrInvalidTransition)
	}

	if ev.Choice {
		if err := o.advanceEvalStep(ctx, ev.ActorID, eval.ID, model.EvalStepScoring, nil); err != nil {
			return nil, err
		}
		draft := o.buffer.Begin(ctx, ev.ActorID, eval.ID)
		text, keyboard := renderEvalForm(draft)
		return []Effect{
			Notify{
				ActorID:  ev.ActorID,
				Text:     text,
				Keyboard: keyboard,
				Mode:     ModeEdit,
				Tag:      TagEvaluationForm,
			},
			AnswerCallback{},
		}, nil
	}

	if err := o.advanceEvalStep(ctx, ev.ActorID, eval.ID, model.EvalStepComment, nil); err != nil {
		return nil, err
	}
	return []Effect{
		Notify{
			ActorID:  ev.ActorID,
			Text:     "💬 Пара слов о клиенте? Напишите сообщением или пропустите.",
			Keyboard: commentSkipKeyboard(eval.ID),
			Mode:     ModeReplace,
			Tag:      TagCommentPrompt,
		},
		AwaitInput{ActorID: ev.ActorID, Step: model.EvalStepComment, EntityID: eval.ID},
		AnswerCallback{},
	}, nil
}

// handleBroadcastChoice — явный выбор публикации
func (o *Orchestrator) handleBroadcastChoice(ctx context.Context, ev Event, mode BroadcastMode) ([]Effect, error) {
	eval, err := o.store.GetEvaluationByID(ctx, ev.EntityID)
	if err != nil {
		return nil, persistence("get evaluation", err)
	}
	if eval == nil {
		return nil, fmt.Errorf("evaluation %d: %w", ev.EntityID, ErrSessionNotFound)
	}

	// Шаг broadcast ещё жив? Если нет — выбор уже сделан (или сработал таймер)
	es, err := o.store.GetEvaluationSessionAtStep(ctx, ev.ActorID, eval.ID, model.EvalStepBroadcast)
	if err != nil {
		return nil, persistence("get evaluation session", err)
	}
	if es == nil {
		return []Effect{AnswerCallback{}}, nil
	}

	effects := []Effect{
		CancelTimer{ActorID: ev.ActorID, Purpose: PurposeBroadcastChoice},
	}

	if mode != BroadcastSkip {
		text, err := o.buildBroadcast(ctx, eval, mode == BroadcastNamed)
		if err != nil {
			return nil, err
		}
		if text != "" {
			effects = append(effects, Broadcast{Text: text})
		}
	}

	// Диалог оценки завершён — контрольная точка удаляется
	if err := o.store.DeleteEvaluationSession(ctx, es.ID); err != nil {
		return nil, persistence("delete evaluation session", err)
	}

	o.logger.Info("Broadcast choice applied",
		zap.Int64("evaluation_id", eval.ID),
		zap.String("mode", string(mode)))

	effects = append(effects,
		Notify{
			ActorID: ev.ActorID,
			Text:    "🙏 Спасибо! Сделка закрыта.",
			Mode:    ModeReplace,
			Tag:     TagNotice,
		},
		AnswerCallback{},
	)
	return effects, nil
}

// handleTimerBroadcast — молчание после отправки оценки: анонимная
// автопубликация. Если выбор уже сделан — ноль эффектов.
func (o *Orchestrator) handleTimerBroadcast(ctx context.Context, ev Event) ([]Effect, error) {
	eval, err := o.store.GetEvaluationByID(ctx, ev.EntityID)
	if err != nil {
		return nil, persistence("get evaluation", err)
	}
	if eval == nil {
		return nil, nil
	}

	es, err := o.store.GetEvaluationSessionAtStep(ctx, ev.ActorID, eval.ID, model.EvalStepBroadcast)
	if err != nil {
		return nil, persistence("get evaluation session", err)
	}
	if es == nil {
		return nil, nil
	}

	var effects []Effect
	text, err := o.buildBroadcast(ctx, eval, false)
	if err != nil {
		return nil, err
	}
	if text != "" {
		effects = append(effects, Broadcast{Text: text})
	}

	if err := o.store.DeleteEvaluationSession(ctx, es.ID); err != nil {
		return nil, persistence("delete evaluation session", err)
	}

	o.logger.Info("Broadcast timed out, published anonymously",
		zap.Int64("evaluation_id", eval.ID))

	effects = append(effects, Notify{
		ActorID: ev.ActorID,
		Text:    "⏰ Время выбора вышло — итог опубликован анонимно. Сделка закрыта.",
		Mode:    ModeReplace,
		Tag:     TagNotice,
	})
	return effects, nil
}

func (o *Orchestrator) buildBroadcast(ctx context.Context, eval *model.Evaluation, named bool) (string, error) {
	order, err := o.store.GetOrderBySessionID(ctx, eval.BookingSessionID)
	if err != nil {
		return "", persistence("get order", err)
	}
	if order == nil {
		return "", nil
	}

	var author *model.User
	if named {
		author, err = o.store.GetUserByID(ctx, eval.EvaluatorID)
		if err != nil {
			return "", persistence("get author", err)
		}
	}

	fresh, err := o.store.GetEvaluationByID(ctx, eval.ID)
	if err != nil {
		return "", persistence("get evaluation", err)
	}
	if fresh == nil {
		fresh = eval
	}

	return broadcastText(order, fresh, author, named), nil
}
