package storage

import (
	"context"
	"log"
	"sync"
	"time"

	"arbscan/internal/metrics"
	"arbscan/internal/models"
	"arbscan/pkg/retry"
)

// ============================================================
// Буферизованная запись тиков
// ============================================================

const (
	sinkBufferDepth   = 8192
	sinkBatchSize     = 500
	sinkFlushInterval = time.Second
)

// TickWriter копит тики в памяти и пишет их в PostgreSQL пачками.
// Enqueue никогда не блокирует: при переполнении буфера тик теряется,
// конвейер важнее полноты архива.
type TickWriter struct {
	repo *Repository
	in   chan models.PriceUpdate
	wg   sync.WaitGroup
}

func NewTickWriter(repo *Repository) *TickWriter {
	return &TickWriter{
		repo: repo,
		in:   make(chan models.PriceUpdate, sinkBufferDepth),
	}
}

// Enqueue ставит тик в очередь на запись без блокировки
func (w *TickWriter) Enqueue(u models.PriceUpdate) {
	select {
	case w.in <- u:
	default:
		metrics.SinkErrors.Inc()
	}
}

// Run собирает пачки и пишет их до отмены ctx, затем дописывает
// остаток буфера
func (w *TickWriter) Run(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		batch := make([]models.PriceUpdate, 0, sinkBatchSize)
		ticker := time.NewTicker(sinkFlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.drain(&batch)
				w.flush(batch)
				return
			case u := <-w.in:
				batch = append(batch, u)
				if len(batch) >= sinkBatchSize {
					w.flush(batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				if len(batch) > 0 {
					w.flush(batch)
					batch = batch[:0]
				}
			}
		}
	}()
}

// Wait блокирует до завершения фоновой записи
func (w *TickWriter) Wait() {
	w.wg.Wait()
}

// drain забирает остаток канала без блокировки
func (w *TickWriter) drain(batch *[]models.PriceUpdate) {
	for {
		select {
		case u := <-w.in:
			*batch = append(*batch, u)
		default:
			return
		}
	}
}

// flush пишет пачку с повторами на сетевых ошибках. Неудача после
// всех попыток теряет пачку: архив best-effort.
func (w *TickWriter) flush(batch []models.PriceUpdate) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := retry.ConservativeConfig()
	cfg.RetryIf = retry.RetryIfNotContext
	err := retry.Do(ctx, func() error {
		return w.repo.SaveTicks(batch)
	}, cfg)
	if err != nil {
		metrics.SinkErrors.Inc()
		log.Printf("[storage] пачка из %d тиков потеряна: %v", len(batch), err)
		return
	}
	metrics.SinkWritten.Add(float64(len(batch)))
}
