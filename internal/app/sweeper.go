package app

import (
	"context"
	"time"

	"github.com/grushin/orderbot/internal/engine"
	"go.uber.org/zap"
)

// Sweeper управляет фоновыми задачами очистки
type Sweeper struct {
	guard  *engine.CooldownRegistry
	buffer *engine.ScoreBuffer
	logger *zap.Logger

	stopChan chan struct{}
}

// NewSweeper создаёт новый планировщик очистки
func NewSweeper(guard *engine.CooldownRegistry, buffer *engine.ScoreBuffer, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		guard:    guard,
		buffer:   buffer,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting background sweeper")

	go s.runGuardSweepTask(ctx)
	go s.runDraftPruneTask(ctx)
}

// Stop останавливает фоновые задачи
func (s *Sweeper) Stop() {
	s.logger.Info("Stopping background sweeper")
	close(s.stopChan)
}

// runGuardSweepTask периодически чистит реестр подавления дублей
func (s *Sweeper) runGuardSweepTask(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.guard.Sweep()
		case <-s.stopChan:
			s.logger.Info("Guard sweep task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Guard sweep task cancelled")
			return
		}
	}
}

// runDraftPruneTask периодически выбрасывает брошенные черновики оценок.
// Сутки — достаточно, чтобы актор вернулся к форме; дольше держать
// черновик в памяти нет смысла, у redis-тени свой TTL.
func (s *Sweeper) runDraftPruneTask(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.buffer.PruneStale(24 * time.Hour)
		case <-s.stopChan:
			s.logger.Info("Draft prune task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Draft prune task cancelled")
			return
		}
	}
}
