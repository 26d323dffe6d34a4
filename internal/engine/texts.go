package engine

import (
	"fmt"
	"strings"

	"github.com/grushin/orderbot/internal/model"
)

// Тексты и клавиатуры, которые оркестратор кладёт в директивы Notify.
// Кнопки несут токены грамматики из event.go.

var dimLabels = map[string]string{
	model.DimAppearance:    "Внешность",
	model.DimFigure:        "Фигура",
	model.DimSkin:          "Кожа",
	model.DimStyle:         "Стиль",
	model.DimHygiene:       "Гигиена",
	model.DimPunctuality:   "Пунктуальность",
	model.DimAttitude:      "Отношение",
	model.DimCommunication: "Общение",
	model.DimEnthusiasm:    "Вовлечённость",
	model.DimSkill:         "Мастерство",
	model.DimEnvironment:   "Обстановка",
	model.DimValue:         "Цена/качество",
}

func courseLabel(t model.CourseType) string {
	switch t {
	case model.CourseTypeP:
		return "Курс P"
	case model.CourseTypePP:
		return "Курс PP"
	}
	return "Другое"
}

func courseOptionsKeyboard(merchantID int64) [][]Button {
	return [][]Button{
		{
			{Text: "Курс P", Data: fmt.Sprintf("book_p_%d", merchantID)},
			{Text: "Курс PP", Data: fmt.Sprintf("book_pp_%d", merchantID)},
		},
		{
			{Text: "Другое", Data: fmt.Sprintf("book_other_%d", merchantID)},
		},
	}
}

func bookingOutcomeKeyboard(sessionID int64) [][]Button {
	return [][]Button{
		{
			{Text: "✅ Договорились", Data: fmt.Sprintf("booking_success_%d", sessionID)},
			{Text: "❌ Не получилось", Data: fmt.Sprintf("booking_failed_%d", sessionID)},
		},
	}
}

func completionCheckKeyboard(sessionID int64) [][]Button {
	return [][]Button{
		{
			{Text: "✅ Курс состоялся", Data: fmt.Sprintf("course_completed_%d", sessionID)},
			{Text: "❌ Не состоялся", Data: fmt.Sprintf("course_incomplete_%d", sessionID)},
		},
	}
}

func rebookKeyboard(sessionID int64) [][]Button {
	return [][]Button{
		{
			{Text: "🔄 Записаться снова", Data: fmt.Sprintf("rebook_yes_%d", sessionID)},
			{Text: "🚫 Не нужно", Data: fmt.Sprintf("rebook_no_%d", sessionID)},
		},
	}
}

// overallScoreKeyboard — общий балл 1..10 для мерчантского пути
func overallScoreKeyboard(evaluationID int64) [][]Button {
	var rows [][]Button
	for base := 1; base <= 10; base += 5 {
		var row []Button
		for v := base; v < base+5; v++ {
			row = append(row, Button{
				Text: fmt.Sprintf("%d", v),
				Data: fmt.Sprintf("eval_score_%d_%d", v, evaluationID),
			})
		}
		rows = append(rows, row)
	}
	return rows
}

func merchantDetailKeyboard(evaluationID int64) [][]Button {
	return [][]Button{
		{
			{Text: "📋 Оценить подробно", Data: fmt.Sprintf("merchant_detail_yes_%d", evaluationID)},
			{Text: "➡️ Пропустить", Data: fmt.Sprintf("merchant_detail_no_%d", evaluationID)},
		},
	}
}

func commentSkipKeyboard(evaluationID int64) [][]Button {
	return [][]Button{
		{{Text: "➡️ Без комментария", Data: fmt.Sprintf("comment_skip_%d", evaluationID)}},
	}
}

func broadcastChoiceKeyboard(evaluationID int64) [][]Button {
	return [][]Button{
		{
			{Text: "📢 Опубликовать", Data: fmt.Sprintf("broadcast_named_%d", evaluationID)},
			{Text: "🕶 Анонимно", Data: fmt.Sprintf("broadcast_anon_%d", evaluationID)},
		},
		{
			{Text: "🚫 Не публиковать", Data: fmt.Sprintf("broadcast_skip_%d", evaluationID)},
		},
	}
}

// renderEvalForm строит единую интерактивную форму из 12 измерений.
// Любое измерение кликабельно в любом порядке; раскрытое измерение
// показывает ряд баллов 1..10. Форма редактируется на месте.
func renderEvalForm(d *EvalDraft) (string, [][]Button) {
	var sb strings.Builder
	sb.WriteString("📝 Оценка по 12 параметрам\n\n")

	for _, dim := range model.EvaluationDimensions {
		if score, ok := d.Scores[dim]; ok {
			sb.WriteString(fmt.Sprintf("✅ %s: %d\n", dimLabels[dim], score))
		} else {
			sb.WriteString(fmt.Sprintf("▫️ %s: —\n", dimLabels[dim]))
		}
	}

	sb.WriteString(fmt.Sprintf("\nЗаполнено: %d из %d\n", d.CompletedCount(), model.DimensionCount))
	if d.CompletedCount() < model.DimensionCount {
		sb.WriteString("Нажмите параметр, затем выберите балл.")
	} else {
		sb.WriteString("Всё заполнено — можно отправлять.")
	}

	var rows [][]Button
	for i := 0; i < len(model.EvaluationDimensions); i += 2 {
		var row []Button
		for _, dim := range model.EvaluationDimensions[i : i+2] {
			label := dimLabels[dim]
			if score, ok := d.Scores[dim]; ok {
				label = fmt.Sprintf("%s · %d", label, score)
			}
			row = append(row, Button{
				Text: label,
				Data: fmt.Sprintf("eval_dim_%s_%d", dim, d.EvaluationID),
			})
		}
		rows = append(rows, row)

		// Ряды баллов раскрываются под выбранным измерением
		if d.SelectedDim != "" && (d.SelectedDim == model.EvaluationDimensions[i] || d.SelectedDim == model.EvaluationDimensions[i+1]) {
			for base := 1; base <= 10; base += 5 {
				var scoreRow []Button
				for v := base; v < base+5; v++ {
					scoreRow = append(scoreRow, Button{
						Text: fmt.Sprintf("%d", v),
						Data: fmt.Sprintf("eval_score_%s_%d_%d", d.SelectedDim, v, d.EvaluationID),
					})
				}
				rows = append(rows, scoreRow)
			}
		}
	}

	rows = append(rows, []Button{
		{Text: "📨 Отправить оценку", Data: fmt.Sprintf("eval_submit_%d", d.EvaluationID)},
	})

	return sb.String(), rows
}

// broadcastText собирает публикацию завершённой сделки
func broadcastText(order *model.Order, eval *model.Evaluation, author *model.User, named bool) string {
	var sb strings.Builder
	sb.WriteString("🏁 Завершённая сделка\n\n")
	sb.WriteString(fmt.Sprintf("📦 Заказ: %s\n", order.OrderNumber))
	sb.WriteString(fmt.Sprintf("📚 %s\n", courseLabel(order.CourseType)))
	if order.PriceRange != "" {
		sb.WriteString(fmt.Sprintf("💰 Бюджет: %s\n", order.PriceRange))
	}

	if eval.OverallScore != nil {
		sb.WriteString(fmt.Sprintf("⭐ Общий балл: %d/10\n", *eval.OverallScore))
	} else if len(eval.DetailedScores) > 0 {
		sum := 0
		for _, v := range eval.DetailedScores {
			sum += v
		}
		sb.WriteString(fmt.Sprintf("⭐ Средний балл: %.1f/10\n", float64(sum)/float64(len(eval.DetailedScores))))
	}

	if eval.Comments != nil && *eval.Comments != "" {
		sb.WriteString(fmt.Sprintf("\n💬 %s\n", *eval.Comments))
	}

	if named && author != nil && author.Username != "" {
		sb.WriteString(fmt.Sprintf("\n— @%s", author.Username))
	} else {
		sb.WriteString("\n— аноним")
	}

	return sb.String()
}
