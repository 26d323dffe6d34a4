package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grushin/orderbot/internal/model"
)

func TestParser_Contact(t *testing.T) {
	p := NewParser()

	ev, err := p.Parse("contact_7")
	require.NoError(t, err)
	assert.Equal(t, ActionAttempt, ev.Action)
	assert.Equal(t, int64(7), ev.EntityID)
}

func TestParser_Book(t *testing.T) {
	p := NewParser()

	ev, err := p.Parse("book_pp_42")
	require.NoError(t, err)
	assert.Equal(t, ActionChooseCourse, ev.Action)
	assert.Equal(t, model.CourseTypePP, ev.Course)
	assert.Equal(t, int64(42), ev.EntityID)

	_, err = p.Parse("book_unknown_42")
	assert.Error(t, err)
}

func TestParser_BookingOutcome(t *testing.T) {
	p := NewParser()

	ev, err := p.Parse("booking_success_9")
	require.NoError(t, err)
	assert.Equal(t, ActionBookingOutcome, ev.Action)
	assert.True(t, ev.Success)

	ev, err = p.Parse("booking_failed_9")
	require.NoError(t, err)
	assert.False(t, ev.Success)
	assert.Equal(t, int64(9), ev.EntityID)
}

func TestParser_CourseReport(t *testing.T) {
	p := NewParser()

	ev, err := p.Parse("course_completed_5")
	require.NoError(t, err)
	assert.Equal(t, ActionCourseComplete, ev.Action)

	ev, err = p.Parse("course_incomplete_5")
	require.NoError(t, err)
	assert.Equal(t, ActionCourseIncomplete, ev.Action)
}

func TestParser_Rebook(t *testing.T) {
	p := NewParser()

	ev, err := p.Parse("rebook_yes_3")
	require.NoError(t, err)
	assert.Equal(t, ActionRebookChoice, ev.Action)
	assert.True(t, ev.Choice)

	ev, err = p.Parse("rebook_no_3")
	require.NoError(t, err)
	assert.False(t, ev.Choice)
}

func TestParser_EvalScoreDetailed(t *testing.T) {
	p := NewParser()

	ev, err := p.Parse("eval_score_appearance_8_15")
	require.NoError(t, err)
	assert.Equal(t, ActionEvalScore, ev.Action)
	assert.Equal(t, "appearance", ev.Dimension)
	assert.Equal(t, 8, ev.Value)
	assert.Equal(t, int64(15), ev.EntityID)

	_, err = p.Parse("eval_score_appearance_11_15")
	assert.Error(t, err, "score out of range must be rejected")

	_, err = p.Parse("eval_score_appearance_0_15")
	assert.Error(t, err)
}

func TestParser_EvalOverallAndDimSelect(t *testing.T) {
	p := NewParser()

	// Арность 4 со словом score — общий балл
	ev, err := p.Parse("eval_score_7_15")
	require.NoError(t, err)
	assert.Equal(t, ActionEvalScore, ev.Action)
	assert.Empty(t, ev.Dimension)
	assert.Equal(t, 7, ev.Value)

	// Арность 4 со словом dim — выбор измерения
	ev, err = p.Parse("eval_dim_figure_15")
	require.NoError(t, err)
	assert.Equal(t, ActionEvalDimSelect, ev.Action)
	assert.Equal(t, "figure", ev.Dimension)
}

func TestParser_EvalSubmit(t *testing.T) {
	p := NewParser()

	ev, err := p.Parse("eval_submit_15")
	require.NoError(t, err)
	assert.Equal(t, ActionEvalSubmit, ev.Action)
	assert.Equal(t, int64(15), ev.EntityID)
}

func TestParser_CommentSkip(t *testing.T) {
	p := NewParser()

	ev, err := p.Parse("comment_skip_15")
	require.NoError(t, err)
	assert.Equal(t, ActionTextComment, ev.Action)
	assert.True(t, ev.Skip)
}

func TestParser_BroadcastChoice(t *testing.T) {
	p := NewParser()

	for token, mode := range map[string]BroadcastMode{
		"broadcast_named_4": BroadcastNamed,
		"broadcast_anon_4":  BroadcastAnon,
		"broadcast_skip_4":  BroadcastSkip,
	} {
		ev, err := p.Parse(token)
		require.NoError(t, err, token)
		assert.Equal(t, ActionBroadcastChoice, ev.Action)
		assert.Equal(t, mode, ev.Broadcast)
	}
}

func TestParser_MerchantDetail(t *testing.T) {
	p := NewParser()

	ev, err := p.Parse("merchant_detail_yes_4")
	require.NoError(t, err)
	assert.Equal(t, ActionMerchantDetailChoice, ev.Action)
	assert.True(t, ev.Choice)

	ev, err = p.Parse("merchant_detail_no_4")
	require.NoError(t, err)
	assert.False(t, ev.Choice)
}

func TestParser_RejectsGarbage(t *testing.T) {
	p := NewParser()

	for _, token := range []string{
		"",
		"contact",
		"contact_abc",
		"nonsense_1_2",
		"eval_bogus_15",
		"booking_maybe_9",
		"eval_score_appearance_8_15_99", // лишний токен
	} {
		_, err := p.Parse(token)
		assert.Error(t, err, "token %q must be rejected", token)
	}
}

func TestEvent_ActionClass(t *testing.T) {
	choose := Event{Action: ActionChooseCourse, Course: model.CourseTypeP, EntityID: 7}
	assert.Equal(t, "book:p:7", choose.ActionClass())

	// Разные курсы одного мерчанта — разные классы
	chooseOther := Event{Action: ActionChooseCourse, Course: model.CourseTypePP, EntityID: 7}
	assert.NotEqual(t, choose.ActionClass(), chooseOther.ActionClass())

	score := Event{Action: ActionEvalScore, Dimension: "skin", EntityID: 15}
	assert.Equal(t, "eval_score:skin:15", score.ActionClass())
}

func TestEvent_BypassesGuard(t *testing.T) {
	assert.True(t, Event{Action: ActionEvalScore}.BypassesGuard())
	assert.True(t, Event{Action: ActionEvalDimSelect}.BypassesGuard())
	assert.True(t, Event{Action: ActionTimerBroadcast}.BypassesGuard())
	assert.False(t, Event{Action: ActionChooseCourse}.BypassesGuard())
	assert.False(t, Event{Action: ActionEvalSubmit}.BypassesGuard())
}
