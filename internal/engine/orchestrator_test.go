package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/model"
)

// --- Fake store ---

type fakeStore struct {
	users        map[int64]*model.User
	sessions     map[int64]*model.BookingSession
	orders       map[int64]*model.Order
	evals        map[int64]*model.Evaluation
	evalSessions map[int64]*model.EvaluationSession
	nextID       int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[int64]*model.User),
		sessions:     make(map[int64]*model.BookingSession),
		orders:       make(map[int64]*model.Order),
		evals:        make(map[int64]*model.Evaluation),
		evalSessions: make(map[int64]*model.EvaluationSession),
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	return f.users[id], nil
}

func (f *fakeStore) CreateBookingSession(_ context.Context, s *model.BookingSession) error {
	s.ID = f.id()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) GetBookingSessionByID(_ context.Context, id int64) (*model.BookingSession, error) {
	return f.sessions[id], nil
}

func (f *fakeStore) GetActiveBookingSession(_ context.Context, userID, merchantID int64) (*model.BookingSession, error) {
	for _, s := range f.sessions {
		if s.UserID == userID && s.MerchantID == merchantID && !s.Status.IsTerminal() {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateUserCourseStatus(_ context.Context, sessionID int64, status model.CourseStatus) error {
	f.sessions[sessionID].UserCourseStatus = status
	return nil
}

func (f *fakeStore) UpdateMerchantCourseStatus(_ context.Context, sessionID int64, status model.CourseStatus) error {
	f.sessions[sessionID].MerchantCourseStatus = status
	return nil
}

func (f *fakeStore) UpdateBookingSessionStatus(_ context.Context, sessionID int64, status model.SessionStatus) error {
	f.sessions[sessionID].Status = status
	return nil
}

func (f *fakeStore) CreateOrder(_ context.Context, o *model.Order) error {
	o.ID = f.id()
	f.orders[o.ID] = o
	return nil
}

func (f *fakeStore) GetOrderBySessionID(_ context.Context, sessionID int64) (*model.Order, error) {
	for _, o := range f.orders {
		if o.BookingSessionID != nil && *o.BookingSessionID == sessionID {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetAttemptingOrder(_ context.Context, userID, merchantID int64) (*model.Order, error) {
	for _, o := range f.orders {
		if o.UserID == userID && o.MerchantID == merchantID && o.Status == model.OrderStatusAttempting {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateOrderFields(_ context.Context, orderID int64, upd OrderUpdate) error {
	o := f.orders[orderID]
	if upd.BookingSessionID != nil {
		o.BookingSessionID = upd.BookingSessionID
	}
	if upd.CourseType != nil {
		o.CourseType = *upd.CourseType
	}
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	if upd.BookingTime != nil {
		o.BookingTime = upd.BookingTime
	}
	if upd.ConfirmedTime != nil {
		o.ConfirmedTime = upd.ConfirmedTime
	}
	if upd.CompletedTime != nil {
		o.CompletedTime = upd.CompletedTime
	}
	if upd.UserEvaluation != nil {
		o.UserEvaluation = upd.UserEvaluation
	}
	if upd.MerchantEvaluation != nil {
		o.MerchantEvaluation = upd.MerchantEvaluation
	}
	return nil
}

func (f *fakeStore) CreateEvaluation(_ context.Context, e *model.Evaluation) error {
	e.ID = f.id()
	f.evals[e.ID] = e
	return nil
}

func (f *fakeStore) GetEvaluationByID(_ context.Context, id int64) (*model.Evaluation, error) {
	return f.evals[id], nil
}

func (f *fakeStore) GetEvaluationBySession(_ context.Context, sessionID int64, evaluator model.EvaluatorType) (*model.Evaluation, error) {
	for _, e := range f.evals {
		if e.BookingSessionID == sessionID && e.EvaluatorType == evaluator {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateEvaluation(_ context.Context, id int64, upd EvaluationUpdate) error {
	e := f.evals[id]
	if upd.OverallScore != nil {
		e.OverallScore = upd.OverallScore
	}
	if upd.DetailedScores != nil {
		e.DetailedScores = upd.DetailedScores
	}
	if upd.Comments != nil {
		e.Comments = upd.Comments
	}
	if upd.Status != nil {
		e.Status = *upd.Status
	}
	return nil
}

func (f *fakeStore) SaveEvaluationSession(_ context.Context, es *model.EvaluationSession) error {
	for _, existing := range f.evalSessions {
		if existing.UserID == es.UserID && existing.EvaluationID == es.EvaluationID {
			existing.CurrentStep = es.CurrentStep
			existing.TempData = es.TempData
			es.ID = existing.ID
			return nil
		}
	}
	es.ID = f.id()
	f.evalSessions[es.ID] = es
	return nil
}

func (f *fakeStore) GetEvaluationSessionAtStep(_ context.Context, userID, evaluationID int64, step string) (*model.EvaluationSession, error) {
	for _, es := range f.evalSessions {
		if es.UserID == userID && es.EvaluationID == evaluationID && es.CurrentStep == step {
			return es, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) DeleteEvaluationSession(_ context.Context, id int64) error {
	delete(f.evalSessions, id)
	return nil
}

// --- Fixture ---

const (
	clientID   = int64(1)
	merchantID = int64(2)
)

type fixture struct {
	store *fakeStore
	orch  *Orchestrator
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newFakeStore()
	store.users[clientID] = &model.User{ID: clientID, TelegramID: 100, FirstName: "Иван", Username: "ivan"}
	store.users[merchantID] = &model.User{
		ID: merchantID, TelegramID: 200, FirstName: "Мария",
		IsMerchant: true, ContactInfo: "@maria_contact",
	}

	buffer := NewScoreBuffer(nil, 0, zap.NewNop())
	orch := NewOrchestrator(store, buffer, 2*time.Hour, 10*time.Minute, zap.NewNop())

	return &fixture{store: store, orch: orch, ctx: context.Background()}
}

// bookConfirmed прогоняет фикстуру до подтверждённой брони
func (fx *fixture) bookConfirmed(t *testing.T) *model.BookingSession {
	t.Helper()

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionAttempt, EntityID: merchantID})
	require.NoError(t, err)

	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionChooseCourse, EntityID: merchantID, Course: model.CourseTypeP})
	require.NoError(t, err)

	session, err := fx.store.GetActiveBookingSession(fx.ctx, clientID, merchantID)
	require.NoError(t, err)
	require.NotNil(t, session)

	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionBookingOutcome, EntityID: session.ID, Success: true})
	require.NoError(t, err)

	return session
}

// userEvaluation доводит пользовательскую сторону до открытой формы оценки
func (fx *fixture) userEvaluation(t *testing.T) *model.Evaluation {
	t.Helper()

	session := fx.bookConfirmed(t)
	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionCourseComplete, EntityID: session.ID})
	require.NoError(t, err)

	eval, err := fx.store.GetEvaluationBySession(fx.ctx, session.ID, model.EvaluatorTypeUser)
	require.NoError(t, err)
	require.NotNil(t, eval)
	return eval
}

func effectsOf[T Effect](effects []Effect) []T {
	var out []T
	for _, e := range effects {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// --- Tests ---

func TestAttempt_CreatesOrderAndSendsContact(t *testing.T) {
	fx := newFixture(t)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionAttempt, EntityID: merchantID})
	require.NoError(t, err)

	order, err := fx.store.GetAttemptingOrder(fx.ctx, clientID, merchantID)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, model.OrderStatusAttempting, order.Status)
	assert.NotEmpty(t, order.OrderNumber)

	notifies := effectsOf[Notify](effects)
	require.Len(t, notifies, 2)
	assert.Contains(t, notifies[0].Text, "@maria_contact")
	assert.Equal(t, TagBookingOptions, notifies[1].Tag)
}

func TestAttempt_ReusesPendingOrder(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionAttempt, EntityID: merchantID})
	require.NoError(t, err)
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionAttempt, EntityID: merchantID})
	require.NoError(t, err)

	assert.Len(t, fx.store.orders, 1, "repeat interest must not create a second order")
}

func TestAttempt_UnknownMerchant(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionAttempt, EntityID: 777})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Обычный пользователь мерчантом не считается
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: merchantID, Action: ActionAttempt, EntityID: clientID})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestChooseCourse_CreatesSessionAndPendingOrder(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionAttempt, EntityID: merchantID})
	require.NoError(t, err)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionChooseCourse, EntityID: merchantID, Course: model.CourseTypeP})
	require.NoError(t, err)

	session, err := fx.store.GetActiveBookingSession(fx.ctx, clientID, merchantID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, model.SessionStatusPending, session.Status)
	assert.Equal(t, model.CourseTypeP, session.CourseType)

	order, err := fx.store.GetOrderBySessionID(fx.ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.NotNil(t, order.BookingTime)

	// Мерчант уведомлён, пользователь получает кнопки результата брони
	notifies := effectsOf[Notify](effects)
	require.Len(t, notifies, 2)
	assert.Equal(t, merchantID, notifies[0].ActorID)
	assert.Equal(t, clientID, notifies[1].ActorID)
}

func TestChooseCourse_SecondChoiceDropped(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionChooseCourse, EntityID: merchantID, Course: model.CourseTypeP})
	require.NoError(t, err)

	// Двойное нажатие второй кнопки курса: пара уже в активной сессии
	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionChooseCourse, EntityID: merchantID, Course: model.CourseTypePP})
	require.NoError(t, err)

	assert.Len(t, fx.store.sessions, 1)
	assert.Empty(t, effectsOf[Notify](effects), "duplicate choice produces only an ack")
}

func TestBookingOutcome_SuccessArmsTimers(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionChooseCourse, EntityID: merchantID, Course: model.CourseTypeP})
	require.NoError(t, err)
	session, _ := fx.store.GetActiveBookingSession(fx.ctx, clientID, merchantID)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionBookingOutcome, EntityID: session.ID, Success: true})
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusConfirmed, session.Status)
	order, _ := fx.store.GetOrderBySessionID(fx.ctx, session.ID)
	assert.Equal(t, model.OrderStatusConfirmed, order.Status)
	assert.NotNil(t, order.ConfirmedTime)

	timers := effectsOf[ArmTimer](effects)
	require.Len(t, timers, 2, "both parties get a completion check timer")
	assert.ElementsMatch(t, []int64{clientID, merchantID}, []int64{timers[0].ActorID, timers[1].ActorID})
	assert.Equal(t, 2*time.Hour, timers[0].Delay)
}

func TestBookingOutcome_SuccessRedelivered(t *testing.T) {
	fx := newFixture(t)
	session := fx.bookConfirmed(t)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionBookingOutcome, EntityID: session.ID, Success: true})
	require.NoError(t, err)
	assert.Empty(t, effectsOf[ArmTimer](effects), "redelivery must not re-arm timers")
	assert.Empty(t, effectsOf[Notify](effects))
}

func TestBookingOutcome_Failed(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionChooseCourse, EntityID: merchantID, Course: model.CourseTypeP})
	require.NoError(t, err)
	session, _ := fx.store.GetActiveBookingSession(fx.ctx, clientID, merchantID)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionBookingOutcome, EntityID: session.ID, Success: false})
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusCancelled, session.Status)
	order, _ := fx.store.GetOrderBySessionID(fx.ctx, session.ID)
	assert.Equal(t, model.OrderStatusFailed, order.Status)

	notifies := effectsOf[Notify](effects)
	require.Len(t, notifies, 1)
	assert.Equal(t, TagRebookChoice, notifies[0].Tag)
}

func TestBookingOutcome_WrongActor(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionChooseCourse, EntityID: merchantID, Course: model.CourseTypeP})
	require.NoError(t, err)
	session, _ := fx.store.GetActiveBookingSession(fx.ctx, clientID, merchantID)

	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: merchantID, Action: ActionBookingOutcome, EntityID: session.ID, Success: true})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTimerCompletionCheck(t *testing.T) {
	fx := newFixture(t)
	session := fx.bookConfirmed(t)

	// Сторона ещё не отчиталась — напоминание уходит
	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTimerCompletionCheck, EntityID: session.ID})
	require.NoError(t, err)
	notifies := effectsOf[Notify](effects)
	require.Len(t, notifies, 1)
	assert.Equal(t, TagCompletionCheck, notifies[0].Tag)

	// После отчёта стороны сработавший таймер — ноль эффектов
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionCourseComplete, EntityID: session.ID})
	require.NoError(t, err)

	effects, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTimerCompletionCheck, EntityID: session.ID})
	require.NoError(t, err)
	assert.Empty(t, effects)
}

func TestCourseComplete_SidesIndependent(t *testing.T) {
	fx := newFixture(t)
	session := fx.bookConfirmed(t)

	// Мерчант отчитывается первым — сразу получает свой поток оценки
	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: merchantID, Action: ActionCourseComplete, EntityID: session.ID})
	require.NoError(t, err)

	assert.Equal(t, model.CourseStatusCompleted, session.MerchantCourseStatus)
	assert.Equal(t, model.CourseStatusPending, session.UserCourseStatus)
	assert.Equal(t, model.SessionStatusConfirmed, session.Status, "one side is not enough to finish")

	notifies := effectsOf[Notify](effects)
	require.Len(t, notifies, 1)
	assert.Contains(t, notifies[0].Text, "Оцените клиента", "merchant path starts with the overall score")

	// Пользователь отчитывается вторым — сессия и заказ завершаются
	effects, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionCourseComplete, EntityID: session.ID})
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusCompleted, session.Status)
	order, _ := fx.store.GetOrderBySessionID(fx.ctx, session.ID)
	assert.Equal(t, model.OrderStatusCompleted, order.Status)
	assert.NotNil(t, order.CompletedTime)

	notifies = effectsOf[Notify](effects)
	require.Len(t, notifies, 1)
	assert.Equal(t, TagEvaluationForm, notifies[0].Tag)
	assert.Contains(t, notifies[0].Text, "12 параметрам", "user path opens the detailed form")
}

func TestCourseComplete_Redelivered(t *testing.T) {
	fx := newFixture(t)
	session := fx.bookConfirmed(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionCourseComplete, EntityID: session.ID})
	require.NoError(t, err)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionCourseComplete, EntityID: session.ID})
	require.NoError(t, err)
	assert.Empty(t, effectsOf[Notify](effects))
	assert.Len(t, fx.store.evals, 1, "redelivery must not create a second evaluation")
}

func TestCourseIncomplete(t *testing.T) {
	fx := newFixture(t)
	session := fx.bookConfirmed(t)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionCourseIncomplete, EntityID: session.ID})
	require.NoError(t, err)

	assert.Equal(t, model.CourseStatusIncomplete, session.UserCourseStatus)
	assert.Equal(t, model.SessionStatusCancelled, session.Status)

	notifies := effectsOf[Notify](effects)
	require.Len(t, notifies, 1)
	assert.Equal(t, TagRebookChoice, notifies[0].Tag)

	// Противоречащий отчёт той же стороны отклоняется
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionCourseComplete, EntityID: session.ID})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRebookChoice_YesCreatesFreshPair(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionChooseCourse, EntityID: merchantID, Course: model.CourseTypeP})
	require.NoError(t, err)
	oldSession, _ := fx.store.GetActiveBookingSession(fx.ctx, clientID, merchantID)
	oldOrder, _ := fx.store.GetOrderBySessionID(fx.ctx, oldSession.ID)

	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionBookingOutcome, EntityID: oldSession.ID, Success: false})
	require.NoError(t, err)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionRebookChoice, EntityID: oldSession.ID, Choice: true})
	require.NoError(t, err)

	fresh, _ := fx.store.GetActiveBookingSession(fx.ctx, clientID, merchantID)
	require.NotNil(t, fresh)
	assert.NotEqual(t, oldSession.ID, fresh.ID, "rebooking creates a distinct session")
	assert.Equal(t, model.SessionStatusPending, fresh.Status)
	assert.Equal(t, oldSession.CourseType, fresh.CourseType)

	newOrder, _ := fx.store.GetOrderBySessionID(fx.ctx, fresh.ID)
	require.NotNil(t, newOrder)
	assert.NotEqual(t, oldOrder.ID, newOrder.ID)
	assert.NotEqual(t, oldOrder.OrderNumber, newOrder.OrderNumber)
	assert.Equal(t, model.OrderStatusFailed, oldOrder.Status, "failed order stays failed")

	notifies := effectsOf[Notify](effects)
	require.Len(t, notifies, 2)
	assert.Equal(t, merchantID, notifies[0].ActorID)
}

func TestRebookChoice_No(t *testing.T) {
	fx := newFixture(t)
	session := fx.bookConfirmed(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionCourseIncomplete, EntityID: session.ID})
	require.NoError(t, err)

	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionRebookChoice, EntityID: session.ID, Choice: false})
	require.NoError(t, err)

	order, _ := fx.store.GetOrderBySessionID(fx.ctx, session.ID)
	assert.Equal(t, model.OrderStatusCancelled, order.Status)

	active, _ := fx.store.GetActiveBookingSession(fx.ctx, clientID, merchantID)
	assert.Nil(t, active)
}

func TestEvalScore_OverwriteThenSubmit(t *testing.T) {
	fx := newFixture(t)
	eval := fx.userEvaluation(t)

	// 8, затем перезапись на 3
	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalScore, EntityID: eval.ID, Dimension: model.DimAppearance, Value: 8})
	require.NoError(t, err)
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalScore, EntityID: eval.ID, Dimension: model.DimAppearance, Value: 3})
	require.NoError(t, err)

	for _, dim := range model.EvaluationDimensions[1:] {
		_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalScore, EntityID: eval.ID, Dimension: dim, Value: 7})
		require.NoError(t, err)
	}

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalSubmit, EntityID: eval.ID})
	require.NoError(t, err)

	assert.Equal(t, model.EvaluationStatusDetailCompleted, eval.Status)
	assert.Equal(t, 3, eval.DetailedScores[model.DimAppearance], "the last score wins")
	assert.Len(t, eval.DetailedScores, model.DimensionCount)

	awaits := effectsOf[AwaitInput](effects)
	require.Len(t, awaits, 1, "submit opens the comment step")
	assert.Equal(t, model.EvalStepComment, awaits[0].Step)
}

func TestEvalSubmit_IncompleteNeverMutates(t *testing.T) {
	fx := newFixture(t)
	eval := fx.userEvaluation(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalScore, EntityID: eval.ID, Dimension: model.DimAppearance, Value: 8})
	require.NoError(t, err)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalSubmit, EntityID: eval.ID})
	require.NoError(t, err)

	assert.Equal(t, model.EvaluationStatusPending, eval.Status, "incomplete submit must not change the evaluation")
	assert.Empty(t, eval.DetailedScores)

	answers := effectsOf[AnswerCallback](effects)
	require.Len(t, answers, 1)
	assert.True(t, answers[0].Alert)
	assert.Contains(t, answers[0].Text, "1 из 12")
	assert.Empty(t, effectsOf[Notify](effects))
}

func TestEvalDimSelect_RendersScoreRows(t *testing.T) {
	fx := newFixture(t)
	eval := fx.userEvaluation(t)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalDimSelect, EntityID: eval.ID, Dimension: model.DimSkill})
	require.NoError(t, err)

	notifies := effectsOf[Notify](effects)
	require.Len(t, notifies, 1)
	assert.Equal(t, ModeEdit, notifies[0].Mode, "the form is edited in place")

	var scoreButtons int
	for _, row := range notifies[0].Keyboard {
		for _, b := range row {
			if b.Data == fmt.Sprintf("eval_score_skill_5_%d", eval.ID) {
				scoreButtons++
			}
		}
	}
	assert.Equal(t, 1, scoreButtons, "selected dimension exposes its score row")
}

func TestMerchantOverallScoreAndDetailChoice(t *testing.T) {
	fx := newFixture(t)
	session := fx.bookConfirmed(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: merchantID, Action: ActionCourseComplete, EntityID: session.ID})
	require.NoError(t, err)
	eval, _ := fx.store.GetEvaluationBySession(fx.ctx, session.ID, model.EvaluatorTypeMerchant)
	require.NotNil(t, eval)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: merchantID, Action: ActionEvalScore, EntityID: eval.ID, Value: 9})
	require.NoError(t, err)

	assert.Equal(t, model.EvaluationStatusOverallCompleted, eval.Status)
	require.NotNil(t, eval.OverallScore)
	assert.Equal(t, 9, *eval.OverallScore)

	notifies := effectsOf[Notify](effects)
	require.Len(t, notifies, 1)
	assert.Contains(t, notifies[0].Text, "подробнее")

	// Отказ от детальной оценки ведёт сразу к комментарию
	effects, err = fx.orch.Handle(fx.ctx, Event{ActorID: merchantID, Action: ActionMerchantDetailChoice, EntityID: eval.ID, Choice: false})
	require.NoError(t, err)
	awaits := effectsOf[AwaitInput](effects)
	require.Len(t, awaits, 1)
	assert.Equal(t, model.EvalStepComment, awaits[0].Step)
}

func TestMerchantOverallScore_OnUserEvaluationRejected(t *testing.T) {
	fx := newFixture(t)
	eval := fx.userEvaluation(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalScore, EntityID: eval.ID, Value: 9})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTextComment_CompletesAndSnapshots(t *testing.T) {
	fx := newFixture(t)
	eval := fx.userEvaluation(t)

	for _, dim := range model.EvaluationDimensions {
		_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalScore, EntityID: eval.ID, Dimension: dim, Value: 7})
		require.NoError(t, err)
	}
	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalSubmit, EntityID: eval.ID})
	require.NoError(t, err)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTextComment, EntityID: eval.ID, RawText: "Отличный курс"})
	require.NoError(t, err)

	assert.Equal(t, model.EvaluationStatusCompleted, eval.Status)
	require.NotNil(t, eval.Comments)
	assert.Equal(t, "Отличный курс", *eval.Comments)

	// Снимок ушёл в write-once поле заказа
	order, _ := fx.store.GetOrderBySessionID(fx.ctx, eval.BookingSessionID)
	require.NotNil(t, order.UserEvaluation)
	var snap struct {
		DetailedScores map[string]int `json:"detailed_scores"`
		Comments       *string        `json:"comments"`
	}
	require.NoError(t, json.Unmarshal([]byte(*order.UserEvaluation), &snap))
	assert.Len(t, snap.DetailedScores, model.DimensionCount)
	assert.Equal(t, "Отличный курс", *snap.Comments)

	// Следом — выбор публикации с таймером автопубликации
	timers := effectsOf[ArmTimer](effects)
	require.Len(t, timers, 1)
	assert.Equal(t, PurposeBroadcastChoice, timers[0].Purpose)
	assert.Equal(t, 10*time.Minute, timers[0].Delay)
	require.Len(t, effectsOf[ClearAwaitInput](effects), 1)
}

func TestBroadcastChoice_NamedPublishes(t *testing.T) {
	fx := newFixture(t)
	eval := fx.userEvaluation(t)

	for _, dim := range model.EvaluationDimensions {
		_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalScore, EntityID: eval.ID, Dimension: dim, Value: 8})
		require.NoError(t, err)
	}
	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalSubmit, EntityID: eval.ID})
	require.NoError(t, err)
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTextComment, EntityID: eval.ID, Skip: true})
	require.NoError(t, err)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionBroadcastChoice, EntityID: eval.ID, Broadcast: BroadcastNamed})
	require.NoError(t, err)

	broadcasts := effectsOf[Broadcast](effects)
	require.Len(t, broadcasts, 1)
	assert.Contains(t, broadcasts[0].Text, "@ivan", "named publication carries the author")
	assert.Contains(t, broadcasts[0].Text, "Средний балл: 8.0")

	cancels := effectsOf[CancelTimer](effects)
	require.Len(t, cancels, 1)
	assert.Equal(t, PurposeBroadcastChoice, cancels[0].Purpose)
}

func TestBroadcastTimer_AfterExplicitChoiceIsNoop(t *testing.T) {
	fx := newFixture(t)
	eval := fx.userEvaluation(t)

	for _, dim := range model.EvaluationDimensions {
		_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalScore, EntityID: eval.ID, Dimension: dim, Value: 8})
		require.NoError(t, err)
	}
	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalSubmit, EntityID: eval.ID})
	require.NoError(t, err)
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTextComment, EntityID: eval.ID, Skip: true})
	require.NoError(t, err)

	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionBroadcastChoice, EntityID: eval.ID, Broadcast: BroadcastSkip})
	require.NoError(t, err)

	// Гонка "таймер против выбора": выбор успел первым, таймер молчит
	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTimerBroadcast, EntityID: eval.ID})
	require.NoError(t, err)
	assert.Empty(t, effects)
}

func TestBroadcastTimer_PublishesAnonymously(t *testing.T) {
	fx := newFixture(t)
	eval := fx.userEvaluation(t)

	for _, dim := range model.EvaluationDimensions {
		_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalScore, EntityID: eval.ID, Dimension: dim, Value: 8})
		require.NoError(t, err)
	}
	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalSubmit, EntityID: eval.ID})
	require.NoError(t, err)
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTextComment, EntityID: eval.ID, Skip: true})
	require.NoError(t, err)

	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTimerBroadcast, EntityID: eval.ID})
	require.NoError(t, err)

	broadcasts := effectsOf[Broadcast](effects)
	require.Len(t, broadcasts, 1)
	assert.Contains(t, broadcasts[0].Text, "аноним")
	assert.NotContains(t, broadcasts[0].Text, "@ivan")

	// Повторное срабатывание — контрольная точка уже удалена
	effects, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTimerBroadcast, EntityID: eval.ID})
	require.NoError(t, err)
	assert.Empty(t, effects)
}

// randomBookingEvent выбирает случайное событие жизненного цикла брони:
// и валидные, и заведомо невпопад — движок обязан отбросить вторые
func randomBookingEvent(rng *rand.Rand, fx *fixture) Event {
	sessionIDs := make([]int64, 0, len(fx.store.sessions))
	for id := range fx.store.sessions {
		sessionIDs = append(sessionIDs, id)
	}
	sort.Slice(sessionIDs, func(i, j int) bool { return sessionIDs[i] < sessionIDs[j] })

	target := int64(999) // несуществующая сессия
	if len(sessionIDs) > 0 {
		target = sessionIDs[rng.Intn(len(sessionIDs))]
	}
	actor := clientID
	if rng.Intn(2) == 0 {
		actor = merchantID
	}

	switch rng.Intn(8) {
	case 0:
		return Event{ActorID: clientID, Action: ActionAttempt, EntityID: merchantID}
	case 1:
		course := model.CourseTypeP
		if rng.Intn(2) == 0 {
			course = model.CourseTypePP
		}
		return Event{ActorID: clientID, Action: ActionChooseCourse, EntityID: merchantID, Course: course}
	case 2:
		return Event{ActorID: clientID, Action: ActionBookingOutcome, EntityID: target, Success: true}
	case 3:
		return Event{ActorID: clientID, Action: ActionBookingOutcome, EntityID: target, Success: false}
	case 4:
		return Event{ActorID: actor, Action: ActionCourseComplete, EntityID: target}
	case 5:
		return Event{ActorID: actor, Action: ActionCourseIncomplete, EntityID: target}
	case 6:
		return Event{ActorID: actor, Action: ActionRebookChoice, EntityID: target, Choice: true}
	default:
		return Event{ActorID: actor, Action: ActionRebookChoice, EntityID: target, Choice: false}
	}
}

func TestRandomizedSequences_SingleActiveSessionPerPair(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 30; run++ {
		fx := newFixture(t)
		for step := 0; step < 150; step++ {
			ev := randomBookingEvent(rng, fx)
			if _, err := fx.orch.Handle(fx.ctx, ev); err != nil {
				// Случайная последовательность полна недопустимых переходов
				require.True(t,
					errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrSessionNotFound),
					"run %d step %d: unexpected error %v on %+v", run, step, err, ev)
			}

			active := make(map[[2]int64]int)
			for _, s := range fx.store.sessions {
				if !s.Status.IsTerminal() {
					active[[2]int64{s.UserID, s.MerchantID}]++
				}
			}
			for pair, n := range active {
				require.LessOrEqual(t, n, 1,
					"run %d step %d: pair %v has %d active sessions", run, step, pair, n)
			}
		}
	}
}

// snapshotStore возвращает копии строк сессий, как это делает реальный
// репозиторий, и позволяет вклинить встречную запись между чтением
// и записью обработчика.
type snapshotStore struct {
	*fakeStore
	afterUserCourseStatus func()
}

func (s *snapshotStore) GetBookingSessionByID(ctx context.Context, id int64) (*model.BookingSession, error) {
	session, err := s.fakeStore.GetBookingSessionByID(ctx, id)
	if session == nil || err != nil {
		return session, err
	}
	cp := *session
	return &cp, nil
}

func (s *snapshotStore) UpdateUserCourseStatus(ctx context.Context, sessionID int64, status model.CourseStatus) error {
	if err := s.fakeStore.UpdateUserCourseStatus(ctx, sessionID, status); err != nil {
		return err
	}
	if s.afterUserCourseStatus != nil {
		s.afterUserCourseStatus()
	}
	return nil
}

func TestCourseComplete_InterleavedReportsFinalize(t *testing.T) {
	store := newFakeStore()
	store.users[clientID] = &model.User{ID: clientID, TelegramID: 100, FirstName: "Иван", Username: "ivan"}
	store.users[merchantID] = &model.User{
		ID: merchantID, TelegramID: 200, FirstName: "Мария",
		IsMerchant: true, ContactInfo: "@maria_contact",
	}
	snap := &snapshotStore{fakeStore: store}
	orch := NewOrchestrator(snap, NewScoreBuffer(nil, 0, zap.NewNop()), 2*time.Hour, 10*time.Minute, zap.NewNop())
	ctx := context.Background()

	_, err := orch.Handle(ctx, Event{ActorID: clientID, Action: ActionChooseCourse, EntityID: merchantID, Course: model.CourseTypeP})
	require.NoError(t, err)
	session, err := store.GetActiveBookingSession(ctx, clientID, merchantID)
	require.NoError(t, err)
	require.NotNil(t, session)
	_, err = orch.Handle(ctx, Event{ActorID: clientID, Action: ActionBookingOutcome, EntityID: session.ID, Success: true})
	require.NoError(t, err)

	// Отчёт мерчанта ложится в базу между чтением и записью
	// пользовательского отчёта: оба видели друг друга как pending
	snap.afterUserCourseStatus = func() {
		store.sessions[session.ID].MerchantCourseStatus = model.CourseStatusCompleted
	}

	_, err = orch.Handle(ctx, Event{ActorID: clientID, Action: ActionCourseComplete, EntityID: session.ID})
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusCompleted, store.sessions[session.ID].Status,
		"the later writer must finalize the session")
	order, err := store.GetOrderBySessionID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, order.Status)
	assert.NotNil(t, order.CompletedTime)
}

func TestMerchantOverallScore_RedeliveredAfterCompletion(t *testing.T) {
	fx := newFixture(t)
	session := fx.bookConfirmed(t)

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: merchantID, Action: ActionCourseComplete, EntityID: session.ID})
	require.NoError(t, err)
	eval, _ := fx.store.GetEvaluationBySession(fx.ctx, session.ID, model.EvaluatorTypeMerchant)
	require.NotNil(t, eval)

	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: merchantID, Action: ActionEvalScore, EntityID: eval.ID, Value: 9})
	require.NoError(t, err)
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: merchantID, Action: ActionMerchantDetailChoice, EntityID: eval.ID, Choice: false})
	require.NoError(t, err)
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: merchantID, Action: ActionTextComment, EntityID: eval.ID, RawText: "Приятный клиент"})
	require.NoError(t, err)
	require.Equal(t, model.EvaluationStatusCompleted, eval.Status)

	// Повторная доставка общего балла не откатывает завершённую оценку
	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: merchantID, Action: ActionEvalScore, EntityID: eval.ID, Value: 5})
	require.NoError(t, err)

	assert.Equal(t, model.EvaluationStatusCompleted, eval.Status)
	require.NotNil(t, eval.OverallScore)
	assert.Equal(t, 9, *eval.OverallScore)
	require.NotNil(t, eval.Comments)
	assert.Equal(t, "Приятный клиент", *eval.Comments)
	assert.Empty(t, effectsOf[Notify](effects), "terminal evaluation answers with a bare ack")
}

// driveUserEvaluationToBroadcast прогоняет пользовательскую оценку
// с указанным мерчантом до шага выбора публикации
func (fx *fixture) driveUserEvaluationToBroadcast(t *testing.T, merchant int64) *model.Evaluation {
	t.Helper()

	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionChooseCourse, EntityID: merchant, Course: model.CourseTypeP})
	require.NoError(t, err)
	session, err := fx.store.GetActiveBookingSession(fx.ctx, clientID, merchant)
	require.NoError(t, err)
	require.NotNil(t, session)
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionBookingOutcome, EntityID: session.ID, Success: true})
	require.NoError(t, err)
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionCourseComplete, EntityID: session.ID})
	require.NoError(t, err)

	eval, err := fx.store.GetEvaluationBySession(fx.ctx, session.ID, model.EvaluatorTypeUser)
	require.NoError(t, err)
	require.NotNil(t, eval)

	for _, dim := range model.EvaluationDimensions {
		_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalScore, EntityID: eval.ID, Dimension: dim, Value: 8})
		require.NoError(t, err)
	}
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalSubmit, EntityID: eval.ID})
	require.NoError(t, err)
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTextComment, EntityID: eval.ID, Skip: true})
	require.NoError(t, err)
	return eval
}

func TestBroadcastTimer_ParallelEvaluationsIndependent(t *testing.T) {
	fx := newFixture(t)
	secondMerchant := int64(3)
	fx.store.users[secondMerchant] = &model.User{
		ID: secondMerchant, TelegramID: 300, FirstName: "Олег",
		IsMerchant: true, ContactInfo: "@oleg_contact",
	}

	evalA := fx.driveUserEvaluationToBroadcast(t, merchantID)
	evalB := fx.driveUserEvaluationToBroadcast(t, secondMerchant)

	// Таймер более старой оценки публикует именно её, а не молчит
	// из-за более свежей контрольной точки
	effects, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTimerBroadcast, EntityID: evalA.ID})
	require.NoError(t, err)
	require.Len(t, effectsOf[Broadcast](effects), 1)

	// Контрольная точка второй оценки осталась нетронутой
	effects, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTimerBroadcast, EntityID: evalB.ID})
	require.NoError(t, err)
	require.Len(t, effectsOf[Broadcast](effects), 1)
}

func TestSnapshotWriteOnce(t *testing.T) {
	fx := newFixture(t)
	eval := fx.userEvaluation(t)

	for _, dim := range model.EvaluationDimensions {
		_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalScore, EntityID: eval.ID, Dimension: dim, Value: 8})
		require.NoError(t, err)
	}
	_, err := fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionEvalSubmit, EntityID: eval.ID})
	require.NoError(t, err)
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTextComment, EntityID: eval.ID, RawText: "первый"})
	require.NoError(t, err)

	order, _ := fx.store.GetOrderBySessionID(fx.ctx, eval.BookingSessionID)
	first := *order.UserEvaluation

	// Повторная доставка комментария не перетирает снимок
	_, err = fx.orch.Handle(fx.ctx, Event{ActorID: clientID, Action: ActionTextComment, EntityID: eval.ID, RawText: "второй"})
	require.NoError(t, err)
	assert.Equal(t, first, *order.UserEvaluation)
}
