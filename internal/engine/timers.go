package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type timerKey struct {
	ActorID int64
	Purpose TimerPurpose
}

// TimerRegistry — отменяемые отложенные задачи, по одной на пару
// (актор, назначение). Гонка "отмена против срабатывания" разрешается
// не здесь: сработавший таймер порождает обычное событие, которое
// перед эффектами перепроверяет состояние в хранилище.
type TimerRegistry struct {
	mu     sync.Mutex
	timers map[timerKey]*time.Timer
	logger *zap.Logger
}

// NewTimerRegistry создаёт пустой реестр таймеров
func NewTimerRegistry(logger *zap.Logger) *TimerRegistry {
	return &TimerRegistry{
		timers: make(map[timerKey]*time.Timer),
		logger: logger,
	}
}

// Arm взводит таймер. Существующий таймер той же пары снимается:
// на (актор, назначение) живёт не больше одного таймера.
func (tr *TimerRegistry) Arm(actorID int64, purpose TimerPurpose, delay time.Duration, fire func()) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	key := timerKey{ActorID: actorID, Purpose: purpose}
	if existing, ok := tr.timers[key]; ok {
		existing.Stop()
	}

	tr.timers[key] = time.AfterFunc(delay, func() {
		tr.mu.Lock()
		delete(tr.timers, key)
		tr.mu.Unlock()
		fire()
	})

	tr.logger.Debug("Timer armed",
		zap.Int64("actor_id", actorID),
		zap.String("purpose", string(purpose)),
		zap.Duration("delay", delay))
}

// Cancel снимает таймер, если он взведён
func (tr *TimerRegistry) Cancel(actorID int64, purpose TimerPurpose) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	key := timerKey{ActorID: actorID, Purpose: purpose}
	timer, ok := tr.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(tr.timers, key)

	tr.logger.Debug("Timer cancelled",
		zap.Int64("actor_id", actorID),
		zap.String("purpose", string(purpose)))
	return true
}

// Active сообщает, взведён ли таймер пары
func (tr *TimerRegistry) Active(actorID int64, purpose TimerPurpose) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	_, ok := tr.timers[timerKey{ActorID: actorID, Purpose: purpose}]
	return ok
}

// Stop снимает все таймеры при остановке процесса
func (tr *TimerRegistry) Stop() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for key, timer := range tr.timers {
		timer.Stop()
		delete(tr.timers, key)
	}
	tr.logger.Info("All timers cancelled")
}
