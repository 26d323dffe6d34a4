package engine

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CooldownRegistry — защита от дублей нажатий: карта
// (актор, класс действия) -> время последнего действия.
// Запись делается синхронно, до первого обращения к хранилищу,
// поэтому второй тап двойного нажатия видит защиту уже взведённой,
// пока первый ещё пишет в базу.
type CooldownRegistry struct {
	mu      sync.Mutex
	entries map[string]time.Time
	window  time.Duration
	now     func() time.Time

	logger *zap.Logger
}

// NewCooldownRegistry создаёт реестр с заданным окном подавления
func NewCooldownRegistry(window time.Duration, logger *zap.Logger) *CooldownRegistry {
	return &CooldownRegistry{
		entries: make(map[string]time.Time),
		window:  window,
		now:     time.Now,
		logger:  logger,
	}
}

func cooldownKey(actorID int64, class string) string {
	return fmt.Sprintf("%d:%s", actorID, class)
}

// Allow сообщает, можно ли обрабатывать действие, и одновременно
// записывает его время. false — дубль внутри окна, событие тихо дропается:
// платформа уже показала актору подтверждение клика.
func (r *CooldownRegistry) Allow(actorID int64, class string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if last, ok := r.entries[cooldownKey(actorID, class)]; ok {
		if now.Sub(last) < r.window {
			return false
		}
	}
	r.entries[cooldownKey(actorID, class)] = now
	return true
}

// Sweep удаляет записи старше окна. Вызывается периодически,
// а не на каждом чтении, чтобы ограничить память без лишней работы.
func (r *CooldownRegistry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for key, last := range r.entries {
		if now.Sub(last) >= r.window {
			delete(r.entries, key)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Debug("Cooldown sweep completed",
			zap.Int("removed", removed),
			zap.Int("remaining", len(r.entries)))
	}
}

// Len возвращает число живых записей
func (r *CooldownRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
