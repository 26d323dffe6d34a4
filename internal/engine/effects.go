package engine

import "time"

// Эффекты — декларативные директивы, которые оркестратор возвращает
// вместо прямого I/O. Исполняет их gateway.Executor.

// DeliveryMode определяет, что делать с предыдущим отслеживаемым
// сообщением того же тега при отправке нового.
type DeliveryMode string

const (
	// ModeReplace — удалить предыдущее сообщение тега, отправить новое.
	// Для пошаговых подсказок, где важна только последняя.
	ModeReplace DeliveryMode = "replace"
	// ModeEdit — отредактировать предыдущее сообщение тега на месте.
	// Для формы оценки, чтобы не захламлять чат.
	ModeEdit DeliveryMode = "edit"
	// ModeAppend — просто отправить. Для записей, к которым пользователь
	// должен иметь возможность отлистать назад (контакты, подтверждения).
	ModeAppend DeliveryMode = "append"
)

// MessageTag — семантический тип отслеживаемого сообщения.
type MessageTag string

const (
	TagContactInfo     MessageTag = "contact_info"
	TagBookingOptions  MessageTag = "booking_options"
	TagBookingOutcome  MessageTag = "booking_outcome_check"
	TagCompletionCheck MessageTag = "course_completion_check"
	TagRebookChoice    MessageTag = "rebook_choice"
	TagEvaluationForm  MessageTag = "evaluation_form"
	TagCommentPrompt   MessageTag = "comment_prompt"
	TagBroadcastChoice MessageTag = "broadcast_choice"
	TagNotice          MessageTag = "notice"
)

// TimerPurpose — назначение таймера. На пару (актор, назначение)
// одновременно живёт не больше одного таймера.
type TimerPurpose string

const (
	PurposeCompletionCheck TimerPurpose = "completion_check"
	PurposeBroadcastChoice TimerPurpose = "broadcast_choice"
)

// Button — платформо-независимая кнопка inline-клавиатуры.
type Button struct {
	Text string
	Data string
}

// Effect — маркерный интерфейс директив.
type Effect interface {
	isEffect()
}

// Notify — отправить актору сообщение с клавиатурой.
type Notify struct {
	ActorID  int64 // внутренний ID пользователя, не telegram ID
	Text     string
	Keyboard [][]Button
	Mode     DeliveryMode
	Tag      MessageTag
}

// ArmTimer — взвести таймер. Уже взведённый таймер той же пары
// (актор, назначение) предварительно снимается.
type ArmTimer struct {
	ActorID  int64
	Purpose  TimerPurpose
	Delay    time.Duration
	EntityID int64 // ID сессии или оценки для события срабатывания
}

// CancelTimer — снять таймер, если он есть.
type CancelTimer struct {
	ActorID int64
	Purpose TimerPurpose
}

// Broadcast — опубликовать текст в канал завершённых сделок.
type Broadcast struct {
	Text string
}

// AnswerCallback — ответить на callback query (подтверждение клика).
type AnswerCallback struct {
	Text  string
	Alert bool
}

// AwaitInput — пометить актора как ожидающего текстового ввода.
// Следующее сырое сообщение от него будет понято как Step.
type AwaitInput struct {
	ActorID  int64
	Step     string
	EntityID int64
}

// ClearAwaitInput — снять пометку ожидания ввода.
type ClearAwaitInput struct {
	ActorID int64
}

func (Notify) isEffect()          {}
func (ArmTimer) isEffect()        {}
func (CancelTimer) isEffect()     {}
func (Broadcast) isEffect()       {}
func (AnswerCallback) isEffect()  {}
func (AwaitInput) isEffect()      {}
func (ClearAwaitInput) isEffect() {}
