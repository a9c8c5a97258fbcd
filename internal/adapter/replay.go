package adapter

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"arbscan/internal/models"
	"arbscan/pkg/ratelimit"
)

// ============================================================
// Реплей записанных тиков
// ============================================================

// ReplayState - состояние драйвера реплея
type ReplayState string

const (
	ReplayStopped ReplayState = "stopped"
	ReplayPlaying ReplayState = "playing"
	ReplayPaused  ReplayState = "paused"
	ReplaySeeking ReplayState = "seeking"
)

// Паузы длиннее минуты в записи (простой коллектора) при
// skip_gaps проигрываются за 10 мс
const (
	replayGapThreshold = 60 * time.Second
	replayGapStandIn   = 10 * time.Millisecond
)

var ErrReplayActive = errors.New("replay already in progress")

// TickSource отдаёт записанные тики в хронологическом порядке
type TickSource interface {
	Ticks(ctx context.Context, from, to time.Time, pairs []string) ([]models.PriceUpdate, error)
}

// ReplayOptions - настройки одного прогона
type ReplayOptions struct {
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
	Pairs []string  `json:"pairs,omitempty"`

	// Speed - коэффициент сжатия времени: 1 - реальное время,
	// 10 - в десять раз быстрее, 0 - без задержек
	Speed float64 `json:"speed"`

	// SkipGaps сжимает паузы длиннее минуты до 10 мс
	SkipGaps bool `json:"skip_gaps"`

	// MaxTicksPerSecond ограничивает поток token bucket'ом,
	// 0 - без ограничения
	MaxTicksPerSecond float64 `json:"max_ticks_per_second"`
}

// ReplayStatistics - накопленная статистика прогона
type ReplayStatistics struct {
	State                 ReplayState `json:"state"`
	TicksReplayed         int64       `json:"ticks_replayed"`
	TicksTotal            int64       `json:"ticks_total"`
	OpportunitiesDetected int64       `json:"opportunities_detected"`
	MaxProfitPercent      float64     `json:"max_profit_percent"`
	TotalProfitPercent    float64     `json:"total_profit_percent"`
	TicksPerSecond        float64     `json:"ticks_per_second"`
	Position              time.Time   `json:"position"`
}

// ReplayDriver проигрывает исторические тики через тот же Handler,
// что и живые адаптеры: весь конвейер ниже не отличает реплей от
// реального рынка.
type ReplayDriver struct {
	source  TickSource
	handler Handler

	mu      sync.Mutex
	state   ReplayState
	stats   ReplayStatistics
	started time.Time
	cancel  context.CancelFunc
	pause   chan struct{} // закрыт = играем
	seekTo  time.Time
	seekSet bool
}

func NewReplayDriver(source TickSource, handler Handler) *ReplayDriver {
	return &ReplayDriver{
		source:  source,
		handler: handler,
		state:   ReplayStopped,
	}
}

// Start загружает тики и запускает прогон в отдельной горутине
func (d *ReplayDriver) Start(ctx context.Context, opts ReplayOptions) error {
	d.mu.Lock()
	if d.state != ReplayStopped {
		d.mu.Unlock()
		return ErrReplayActive
	}
	d.state = ReplaySeeking
	d.stats = ReplayStatistics{State: ReplaySeeking}
	d.started = time.Now()
	d.seekSet = false
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.pause = nil
	d.mu.Unlock()

	ticks, err := d.source.Ticks(runCtx, opts.From, opts.To, opts.Pairs)
	if err != nil {
		cancel()
		d.setState(ReplayStopped)
		return err
	}
	if len(ticks) == 0 {
		cancel()
		d.setState(ReplayStopped)
		return errors.New("no recorded ticks in range")
	}

	d.mu.Lock()
	d.state = ReplayPlaying
	d.stats.State = ReplayPlaying
	d.stats.TicksTotal = int64(len(ticks))
	d.mu.Unlock()

	go d.run(runCtx, ticks, opts)
	return nil
}

func (d *ReplayDriver) run(ctx context.Context, ticks []models.PriceUpdate, opts ReplayOptions) {
	defer func() {
		d.setState(ReplayStopped)
		log.Printf("[replay] прогон завершён: %d тиков", d.Statistics().TicksReplayed)
	}()

	var limiter *ratelimit.RateLimiter
	if opts.MaxTicksPerSecond > 0 {
		limiter = ratelimit.NewRateLimiter(opts.MaxTicksPerSecond, opts.MaxTicksPerSecond*2)
	}

	for i := 0; i < len(ticks); i++ {
		if ctx.Err() != nil {
			return
		}
		if !d.waitResumed(ctx) {
			return
		}
		if target, ok := d.takeSeek(); ok {
			i = seekIndex(ticks, target)
			if i >= len(ticks) {
				return
			}
		}

		if i > 0 && opts.Speed > 0 {
			gap := ticks[i].Timestamp.Sub(ticks[i-1].Timestamp)
			if gap > 0 {
				if opts.SkipGaps && gap > replayGapThreshold {
					gap = replayGapStandIn
				} else {
					gap = time.Duration(float64(gap) / opts.Speed)
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(gap):
				}
			}
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		d.handler(ticks[i])

		d.mu.Lock()
		d.stats.TicksReplayed++
		d.stats.Position = ticks[i].Timestamp
		elapsed := time.Since(d.started).Seconds()
		if elapsed > 0 {
			d.stats.TicksPerSecond = float64(d.stats.TicksReplayed) / elapsed
		}
		d.mu.Unlock()
	}
}

// waitResumed блокирует пока драйвер на паузе
func (d *ReplayDriver) waitResumed(ctx context.Context) bool {
	for {
		d.mu.Lock()
		ch := d.pause
		d.mu.Unlock()
		if ch == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ch:
		}
	}
}

func (d *ReplayDriver) takeSeek() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.seekSet {
		return time.Time{}, false
	}
	d.seekSet = false
	return d.seekTo, true
}

// seekIndex - первый тик не раньше target
func seekIndex(ticks []models.PriceUpdate, target time.Time) int {
	lo, hi := 0, len(ticks)
	for lo < hi {
		mid := (lo + hi) / 2
		if ticks[mid].Timestamp.Before(target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (d *ReplayDriver) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != ReplayPlaying {
		return
	}
	d.state = ReplayPaused
	d.stats.State = ReplayPaused
	d.pause = make(chan struct{})
}

func (d *ReplayDriver) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != ReplayPaused {
		return
	}
	d.state = ReplayPlaying
	d.stats.State = ReplayPlaying
	close(d.pause)
	d.pause = nil
}

// Seek переводит позицию прогона на указанное время
func (d *ReplayDriver) Seek(to time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == ReplayStopped {
		return
	}
	d.seekTo = to
	d.seekSet = true
}

func (d *ReplayDriver) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	if d.pause != nil {
		close(d.pause)
		d.pause = nil
	}
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RecordOpportunity учитывает найденную возможность в статистике
// прогона. Вызывается подписчиком на события конвейера.
func (d *ReplayDriver) RecordOpportunity(profitPct float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == ReplayStopped {
		return
	}
	d.stats.OpportunitiesDetected++
	d.stats.TotalProfitPercent += profitPct
	if profitPct > d.stats.MaxProfitPercent {
		d.stats.MaxProfitPercent = profitPct
	}
}

func (d *ReplayDriver) State() ReplayState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *ReplayDriver) Statistics() ReplayStatistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *ReplayDriver) setState(s ReplayState) {
	d.mu.Lock()
	d.state = s
	d.stats.State = s
	d.mu.Unlock()
}
