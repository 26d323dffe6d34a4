package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/model"
)

// EvalDraft — накопитель баллов одного актора до отправки оценки.
// Живёт в памяти, а не в базе: двенадцать отдельных записей на форму
// были бы лишними, а брошенная оценка не должна портить долговременную
// запись.
type EvalDraft struct {
	EvaluationID  int64          `json:"evaluation_id"`
	Scores        map[string]int `json:"scores"`
	SelectedDim   string         `json:"selected_dim"` // измерение, раскрытое в форме
	FormMessageID int            `json:"form_message_id"`
	TouchedAt     time.Time      `json:"touched_at"`
}

// CompletedCount — сколько измерений уже получило балл.
func (d *EvalDraft) CompletedCount() int {
	return len(d.Scores)
}

// Validate сообщает, готов ли черновик к отправке: все измерения
// должны получить балл.
func (d *EvalDraft) Validate() error {
	if len(d.Scores) < model.DimensionCount {
		return fmt.Errorf("%d of %d dimensions scored: %w",
			len(d.Scores), model.DimensionCount, ErrEvaluationIncomplete)
	}
	return nil
}

// ScoreBuffer — буфер оценок по акторам. Каждый проставленный балл
// асинхронно снимается тенью в Redis с TTL, чтобы падение процесса
// посреди формы ничего не теряло.
type ScoreBuffer struct {
	mu     sync.Mutex
	drafts map[int64]*EvalDraft

	shadow    *redis.Client // nil — тень выключена (тесты)
	shadowTTL time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewScoreBuffer создаёт буфер. shadow может быть nil.
func NewScoreBuffer(shadow *redis.Client, shadowTTL time.Duration, logger *zap.Logger) *ScoreBuffer {
	return &ScoreBuffer{
		drafts:    make(map[int64]*EvalDraft),
		shadow:    shadow,
		shadowTTL: shadowTTL,
		logger:    logger,
		now:       time.Now,
	}
}

func shadowKey(actorID int64) string {
	return fmt.Sprintf("evalshadow:%d", actorID)
}

// Begin заводит черновик для актора. Если в Redis лежит тень от
// прерванной оценки той же Evaluation — восстанавливаем её.
func (b *ScoreBuffer) Begin(ctx context.Context, actorID, evaluationID int64) *EvalDraft {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d, ok := b.drafts[actorID]; ok && d.EvaluationID == evaluationID {
		return d
	}

	if restored := b.restoreShadow(ctx, actorID, evaluationID); restored != nil {
		b.drafts[actorID] = restored
		return restored
	}

	d := &EvalDraft{
		EvaluationID: evaluationID,
		Scores:       make(map[string]int),
		TouchedAt:    b.now(),
	}
	b.drafts[actorID] = d
	return d
}

// restoreShadow пытается поднять черновик из Redis. Вызывается под мьютексом.
func (b *ScoreBuffer) restoreShadow(ctx context.Context, actorID, evaluationID int64) *EvalDraft {
	if b.shadow == nil {
		return nil
	}

	raw, err := b.shadow.Get(ctx, shadowKey(actorID)).Result()
	if err != nil {
		if err != redis.Nil {
			b.logger.Warn("Failed to read score shadow", zap.Int64("actor_id", actorID), zap.Error(err))
		}
		return nil
	}

	var d EvalDraft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		b.logger.Warn("Corrupt score shadow, ignoring", zap.Int64("actor_id", actorID), zap.Error(err))
		return nil
	}
	if d.EvaluationID != evaluationID {
		return nil
	}
	if d.Scores == nil {
		d.Scores = make(map[string]int)
	}

	b.logger.Info("Restored score draft from shadow",
		zap.Int64("actor_id", actorID),
		zap.Int64("evaluation_id", evaluationID),
		zap.Int("scores", len(d.Scores)))
	return &d
}

// Get возвращает черновик актора
func (b *ScoreBuffer) Get(actorID int64) (*EvalDraft, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.drafts[actorID]
	return d, ok
}

// SetScore проставляет балл измерения. Повторный балл того же измерения —
// чистая перезапись, не дубль. Возвращает число заполненных измерений.
func (b *ScoreBuffer) SetScore(ctx context.Context, actorID int64, dimension string, value int) (int, error) {
	b.mu.Lock()
	d, ok := b.drafts[actorID]
	if !ok {
		b.mu.Unlock()
		return 0, fmt.Errorf("no active draft for actor %d: %w", actorID, ErrSessionNotFound)
	}
	d.Scores[dimension] = value
	d.TouchedAt = b.now()
	count := len(d.Scores)
	b.mu.Unlock()

	b.checkpoint(ctx, actorID)
	return count, nil
}

// SelectDim запоминает раскрытое в форме измерение
func (b *ScoreBuffer) SelectDim(actorID int64, dimension string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.drafts[actorID]; ok {
		d.SelectedDim = dimension
		d.TouchedAt = b.now()
	}
}

// Clear удаляет черновик и его тень
func (b *ScoreBuffer) Clear(ctx context.Context, actorID int64) {
	b.mu.Lock()
	delete(b.drafts, actorID)
	b.mu.Unlock()

	if b.shadow != nil {
		if err := b.shadow.Del(ctx, shadowKey(actorID)).Err(); err != nil {
			b.logger.Warn("Failed to delete score shadow", zap.Int64("actor_id", actorID), zap.Error(err))
		}
	}
}

// checkpoint снимает тень черновика в Redis. Отказ тени не фатален.
func (b *ScoreBuffer) checkpoint(ctx context.Context, actorID int64) {
	if b.shadow == nil {
		return
	}

	b.mu.Lock()
	d, ok := b.drafts[actorID]
	if !ok {
		b.mu.Unlock()
		return
	}
	raw, err := json.Marshal(d)
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn("Failed to marshal score shadow", zap.Int64("actor_id", actorID), zap.Error(err))
		return
	}

	if err := b.shadow.Set(ctx, shadowKey(actorID), raw, b.shadowTTL).Err(); err != nil {
		b.logger.Warn("Failed to write score shadow", zap.Int64("actor_id", actorID), zap.Error(err))
	}
}

// PruneStale выбрасывает черновики, к которым давно не прикасались.
// Брошенные оценки не должны жить в памяти до перезапуска процесса:
// их чистит тот же периодический sweep, что и реестр кулдаунов,
// а тень в Redis умирает по своему TTL.
func (b *ScoreBuffer) PruneStale(maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for actorID, d := range b.drafts {
		if now.Sub(d.TouchedAt) >= maxAge {
			delete(b.drafts, actorID)
			removed++
		}
	}

	if removed > 0 {
		b.logger.Info("Pruned stale score drafts", zap.Int("removed", removed))
	}
	return removed
}

// Len возвращает число активных черновиков
func (b *ScoreBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.drafts)
}
