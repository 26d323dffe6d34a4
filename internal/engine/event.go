package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grushin/orderbot/internal/model"
)

// Action — закрытый набор действий оркестратора.
type Action string

const (
	ActionAttempt              Action = "attempt"
	ActionChooseCourse         Action = "choose_course"
	ActionBookingOutcome       Action = "booking_outcome"
	ActionCourseComplete       Action = "course_complete"
	ActionCourseIncomplete     Action = "course_incomplete"
	ActionRebookChoice         Action = "rebook_choice"
	ActionEvalScore            Action = "eval_score"
	ActionEvalDimSelect        Action = "eval_dim_select" // чисто UI: выбор измерения в форме
	ActionEvalSubmit           Action = "eval_submit"
	ActionTextComment          Action = "text_comment"
	ActionBroadcastChoice      Action = "broadcast_choice"
	ActionMerchantDetailChoice Action = "merchant_detail_choice"

	// Синтетические события от сработавших таймеров. Идут тем же путём,
	// что и пользовательские, поэтому наследуют идемпотентность переходов.
	ActionTimerCompletionCheck Action = "timer_completion_check"
	ActionTimerBroadcast       Action = "timer_broadcast"
)

// BroadcastMode — выбор публикации завершённой сделки.
type BroadcastMode string

const (
	BroadcastNamed BroadcastMode = "named"
	BroadcastAnon  BroadcastMode = "anon"
	BroadcastSkip  BroadcastMode = "skip"
)

// Event — нормализованное входящее событие. Токен callback data
// декодируется в него ровно один раз, на границе с gateway.
type Event struct {
	ActorID   int64 // внутренний ID пользователя
	Action    Action
	EntityID  int64 // ID мерчанта, сессии или оценки — зависит от действия
	Course    model.CourseType
	Success   bool          // BOOKING_OUTCOME
	Choice    bool          // REBOOK_CHOICE / MERCHANT_DETAIL_CHOICE: да/нет
	Broadcast BroadcastMode // BROADCAST_CHOICE
	Dimension string        // EVAL_SCORE (детальный) / EVAL_DIM_SELECT
	Value     int           // EVAL_SCORE
	Skip      bool          // TEXT_COMMENT: пропуск комментария
	RawText   string        // TEXT_COMMENT: сам комментарий
}

// ActionClass — грубый ключ для подавления дублей. Каждый выбор курса —
// свой класс, все нажатия баллов одного измерения схлопываются в один.
func (e Event) ActionClass() string {
	switch e.Action {
	case ActionChooseCourse:
		return fmt.Sprintf("book:%s:%d", e.Course, e.EntityID)
	case ActionEvalScore, ActionEvalDimSelect:
		return fmt.Sprintf("eval_score:%s:%d", e.Dimension, e.EntityID)
	case ActionTextComment:
		return fmt.Sprintf("comment:%d", e.EntityID)
	default:
		return fmt.Sprintf("%s:%d", e.Action, e.EntityID)
	}
}

// BypassesGuard — баллы оценки идут в обход защиты от дублей:
// они нажимаются очередью по 12 измерениям и идемпотентны поштучно.
func (e Event) BypassesGuard() bool {
	switch e.Action {
	case ActionEvalScore, ActionEvalDimSelect, ActionTimerCompletionCheck, ActionTimerBroadcast:
		return true
	}
	return false
}

// parseKey — ключ таблицы диспетчеризации: глагол и арность токена.
type parseKey struct {
	verb  string
	arity int
}

type parseFunc func(parts []string) (Event, error)

// Parser декодирует строковую грамматику `<verb>_<params>..._<entityID>`
// в tagged Event. Таблица (глагол, арность) валидируется при создании.
type Parser struct {
	table map[parseKey]parseFunc
}

// NewParser строит парсер и валидирует таблицу диспетчеризации.
// Паникует при дублирующейся записи — это ошибка программиста.
func NewParser() *Parser {
	p := &Parser{table: make(map[parseKey]parseFunc)}

	p.register("contact", 2, parseContact)
	p.register("book", 3, parseBook)
	p.register("booking", 3, parseBookingOutcome)
	p.register("course", 3, parseCourseReport)
	p.register("rebook", 3, parseRebook)
	p.register("eval", 5, parseEvalScoreDetailed)
	p.register("eval", 4, parseEvalScoreOverall)
	p.register("eval", 3, parseEvalSubmit)
	p.register("comment", 3, parseCommentSkip)
	p.register("broadcast", 3, parseBroadcastChoice)
	p.register("merchant", 4, parseMerchantDetail)

	return p
}

func (p *Parser) register(verb string, arity int, fn parseFunc) {
	key := parseKey{verb: verb, arity: arity}
	if _, exists := p.table[key]; exists {
		panic(fmt.Sprintf("duplicate parser entry %s/%d", verb, arity))
	}
	if arity < 2 {
		panic(fmt.Sprintf("parser entry %s/%d: arity below minimum", verb, arity))
	}
	p.table[key] = fn
}

// Parse декодирует токен callback data. ActorID подставляет вызывающий.
func (p *Parser) Parse(data string) (Event, error) {
	parts := strings.Split(data, "_")
	if len(parts) < 2 {
		return Event{}, fmt.Errorf("malformed action token %q", data)
	}

	fn, ok := p.table[parseKey{verb: parts[0], arity: len(parts)}]
	if !ok {
		return Event{}, fmt.Errorf("unknown action token %q", data)
	}

	ev, err := fn(parts)
	if err != nil {
		return Event{}, fmt.Errorf("parse %q: %w", data, err)
	}
	return ev, nil
}

// entityID — завершающий числовой токен.
func entityID(parts []string) (int64, error) {
	id, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("trailing entity id: %w", err)
	}
	return id, nil
}

// contact_<merchantID>
func parseContact(parts []string) (Event, error) {
	id, err := entityID(parts)
	if err != nil {
		return Event{}, err
	}
	return Event{Action: ActionAttempt, EntityID: id}, nil
}

// book_<courseType>_<merchantID>
func parseBook(parts []string) (Event, error) {
	id, err := entityID(parts)
	if err != nil {
		return Event{}, err
	}
	course := model.CourseType(parts[1])
	switch course {
	case model.CourseTypeP, model.CourseTypePP, model.CourseTypeOther:
	default:
		return Event{}, fmt.Errorf("unknown course type %q", parts[1])
	}
	return Event{Action: ActionChooseCourse, EntityID: id, Course: course}, nil
}

// booking_success_<sessionID> / booking_failed_<sessionID>
func parseBookingOutcome(parts []string) (Event, error) {
	id, err := entityID(parts)
	if err != nil {
		return Event{}, err
	}
	switch parts[1] {
	case "success":
		return Event{Action: ActionBookingOutcome, EntityID: id, Success: true}, nil
	case "failed":
		return Event{Action: ActionBookingOutcome, EntityID: id, Success: false}, nil
	}
	return Event{}, fmt.Errorf("unknown booking outcome %q", parts[1])
}

// course_completed_<sessionID> / course_incomplete_<sessionID>
func parseCourseReport(parts []string) (Event, error) {
	id, err := entityID(parts)
	if err != nil {
		return Event{}, err
	}
	switch parts[1] {
	case "completed":
		return Event{Action: ActionCourseComplete, EntityID: id}, nil
	case "incomplete":
		return Event{Action: ActionCourseIncomplete, EntityID: id}, nil
	}
	return Event{}, fmt.Errorf("unknown course report %q", parts[1])
}

// rebook_yes_<sessionID> / rebook_no_<sessionID>
func parseRebook(parts []string) (Event, error) {
	id, err := entityID(parts)
	if err != nil {
		return Event{}, err
	}
	switch parts[1] {
	case "yes":
		return Event{Action: ActionRebookChoice, EntityID: id, Choice: true}, nil
	case "no":
		return Event{Action: ActionRebookChoice, EntityID: id, Choice: false}, nil
	}
	return Event{}, fmt.Errorf("unknown rebook choice %q", parts[1])
}

// eval_score_<dimension>_<value>_<evaluationID> — детальный балл.
func parseEvalScoreDetailed(parts []string) (Event, error) {
	if parts[1] != "score" {
		return Event{}, fmt.Errorf("unknown eval sub-verb %q", parts[1])
	}
	id, err := entityID(parts)
	if err != nil {
		return Event{}, err
	}
	value, err := strconv.Atoi(parts[3])
	if err != nil {
		return Event{}, fmt.Errorf("score value: %w", err)
	}
	if value < 1 || value > 10 {
		return Event{}, fmt.Errorf("score %d out of range 1..10", value)
	}
	return Event{Action: ActionEvalScore, EntityID: id, Dimension: parts[2], Value: value}, nil
}

// eval_score_<value>_<evaluationID> — общий балл мерчанта,
// eval_dim_<dimension>_<evaluationID> — выбор измерения в форме.
// Арность отличает эти схемы от детального балла.
func parseEvalScoreOverall(parts []string) (Event, error) {
	id, err := entityID(parts)
	if err != nil {
		return Event{}, err
	}
	switch parts[1] {
	case "score":
		value, err := strconv.Atoi(parts[2])
		if err != nil {
			return Event{}, fmt.Errorf("score value: %w", err)
		}
		if value < 1 || value > 10 {
			return Event{}, fmt.Errorf("score %d out of range 1..10", value)
		}
		return Event{Action: ActionEvalScore, EntityID: id, Value: value}, nil
	case "dim":
		return Event{Action: ActionEvalDimSelect, EntityID: id, Dimension: parts[2]}, nil
	}
	return Event{}, fmt.Errorf("unknown eval sub-verb %q", parts[1])
}

// eval_submit_<evaluationID>
func parseEvalSubmit(parts []string) (Event, error) {
	if parts[1] != "submit" {
		return Event{}, fmt.Errorf("unknown eval sub-verb %q", parts[1])
	}
	id, err := entityID(parts)
	if err != nil {
		return Event{}, err
	}
	return Event{Action: ActionEvalSubmit, EntityID: id}, nil
}

// comment_skip_<evaluationID>
func parseCommentSkip(parts []string) (Event, error) {
	if parts[1] != "skip" {
		return Event{}, fmt.Errorf("unknown comment sub-verb %q", parts[1])
	}
	id, err := entityID(parts)
	if err != nil {
		return Event{}, err
	}
	return Event{Action: ActionTextComment, EntityID: id, Skip: true}, nil
}

// broadcast_named_/anon_/skip_<evaluationID>
func parseBroadcastChoice(parts []string) (Event, error) {
	id, err := entityID(parts)
	if err != nil {
		return Event{}, err
	}
	mode := BroadcastMode(parts[1])
	switch mode {
	case BroadcastNamed, BroadcastAnon, BroadcastSkip:
		return Event{Action: ActionBroadcastChoice, EntityID: id, Broadcast: mode}, nil
	}
	return Event{}, fmt.Errorf("unknown broadcast mode %q", parts[1])
}

// merchant_detail_yes_/no_<evaluationID>
func parseMerchantDetail(parts []string) (Event, error) {
	if parts[1] != "detail" {
		return Event{}, fmt.Errorf("unknown merchant sub-verb %q", parts[1])
	}
	id, err := entityID(parts)
	if err != nil {
		return Event{}, err
	}
	switch parts[2] {
	case "yes":
		return Event{Action: ActionMerchantDetailChoice, EntityID: id, Choice: true}, nil
	case "no":
		return Event{Action: ActionMerchantDetailChoice, EntityID: id, Choice: false}, nil
	}
	return Event{}, fmt.Errorf("unknown merchant detail choice %q", parts[2])
}
