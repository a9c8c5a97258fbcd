package adapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"arbscan/internal/models"
)

// memorySource отдаёт тики из памяти
type memorySource struct {
	ticks []models.PriceUpdate
}

func (m memorySource) Ticks(ctx context.Context, from, to time.Time, pairs []string) ([]models.PriceUpdate, error) {
	var out []models.PriceUpdate
	for _, t := range m.ticks {
		if t.Timestamp.Before(from) || t.Timestamp.After(to) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func recordedTicks(base time.Time, n int, step time.Duration) []models.PriceUpdate {
	out := make([]models.PriceUpdate, n)
	for i := 0; i < n; i++ {
		out[i] = models.PriceUpdate{
			Exchange:  "binance",
			Pair:      "BTC/USDT",
			Bid:       65000 + float64(i),
			Ask:       65010 + float64(i),
			Timestamp: base.Add(time.Duration(i) * step),
		}
	}
	return out
}

func collectHandler() (Handler, func() []models.PriceUpdate) {
	var mu sync.Mutex
	var got []models.PriceUpdate
	h := func(u models.PriceUpdate) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	}
	return h, func() []models.PriceUpdate {
		mu.Lock()
		defer mu.Unlock()
		return append([]models.PriceUpdate(nil), got...)
	}
}

func waitStopped(t *testing.T, d *ReplayDriver) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for d.State() != ReplayStopped {
		if time.Now().After(deadline) {
			t.Fatal("прогон не завершился")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReplayFullRun(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	ticks := recordedTicks(base, 50, 100*time.Millisecond)
	h, got := collectHandler()
	d := NewReplayDriver(memorySource{ticks: ticks}, h)

	// Speed 0: без межтиковых задержек
	err := d.Start(context.Background(), ReplayOptions{
		From: base, To: base.Add(time.Hour), Speed: 0,
	})
	if err != nil {
		t.Fatalf("старт реплея: %v", err)
	}
	waitStopped(t, d)

	replayed := got()
	if len(replayed) != 50 {
		t.Fatalf("проиграно %d тиков, ожидалось 50", len(replayed))
	}
	for i := 1; i < len(replayed); i++ {
		if replayed[i].Timestamp.Before(replayed[i-1].Timestamp) {
			t.Fatal("хронологический порядок нарушен")
		}
	}
	st := d.Statistics()
	if st.TicksReplayed != 50 || st.TicksTotal != 50 {
		t.Errorf("статистика %d/%d, ожидалось 50/50", st.TicksReplayed, st.TicksTotal)
	}
}

func TestReplaySkipGaps(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	// 10 тиков, между пятым и шестым пауза 10 минут
	ticks := recordedTicks(base, 5, 10*time.Millisecond)
	ticks = append(ticks, recordedTicks(base.Add(10*time.Minute), 5, 10*time.Millisecond)...)
	h, got := collectHandler()
	d := NewReplayDriver(memorySource{ticks: ticks}, h)

	start := time.Now()
	err := d.Start(context.Background(), ReplayOptions{
		From: base, To: base.Add(time.Hour), Speed: 1, SkipGaps: true,
	})
	if err != nil {
		t.Fatalf("старт реплея: %v", err)
	}
	waitStopped(t, d)

	if len(got()) != 10 {
		t.Fatalf("проиграно %d тиков, ожидалось 10", len(got()))
	}
	// Без сжатия паузы прогон занял бы 10 минут
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("пауза не сжата: прогон занял %v", elapsed)
	}
}

func TestReplayPauseResume(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	ticks := recordedTicks(base, 200, 10*time.Millisecond)
	h, got := collectHandler()
	d := NewReplayDriver(memorySource{ticks: ticks}, h)

	err := d.Start(context.Background(), ReplayOptions{
		From: base, To: base.Add(time.Hour), Speed: 1,
	})
	if err != nil {
		t.Fatalf("старт реплея: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	d.Pause()
	if d.State() != ReplayPaused {
		t.Fatalf("состояние %s, ожидалось paused", d.State())
	}
	frozen := len(got())
	time.Sleep(100 * time.Millisecond)
	if after := len(got()); after > frozen+1 {
		t.Errorf("на паузе проиграно ещё %d тиков", after-frozen)
	}

	d.Resume()
	time.Sleep(100 * time.Millisecond)
	if len(got()) <= frozen {
		t.Error("после resume тики не идут")
	}
	d.Stop()
	waitStopped(t, d)
}

func TestReplayRejectsConcurrentRun(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	ticks := recordedTicks(base, 500, 20*time.Millisecond)
	d := NewReplayDriver(memorySource{ticks: ticks}, func(models.PriceUpdate) {})

	opts := ReplayOptions{From: base, To: base.Add(time.Hour), Speed: 1}
	if err := d.Start(context.Background(), opts); err != nil {
		t.Fatalf("старт реплея: %v", err)
	}
	if err := d.Start(context.Background(), opts); err != ErrReplayActive {
		t.Errorf("второй старт вернул %v, ожидалось ErrReplayActive", err)
	}
	d.Stop()
	waitStopped(t, d)
}

func TestReplayEmptyRange(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	d := NewReplayDriver(memorySource{}, func(models.PriceUpdate) {})

	err := d.Start(context.Background(), ReplayOptions{From: base, To: base.Add(time.Hour)})
	if err == nil {
		t.Fatal("пустой диапазон не отклонён")
	}
	if d.State() != ReplayStopped {
		t.Errorf("состояние %s, ожидалось stopped", d.State())
	}
}

func TestReplayRecordsOpportunities(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	ticks := recordedTicks(base, 300, 10*time.Millisecond)
	d := NewReplayDriver(memorySource{ticks: ticks}, func(models.PriceUpdate) {})

	if err := d.Start(context.Background(), ReplayOptions{From: base, To: base.Add(time.Hour), Speed: 1}); err != nil {
		t.Fatalf("старт реплея: %v", err)
	}
	d.RecordOpportunity(0.3)
	d.RecordOpportunity(0.7)
	d.RecordOpportunity(0.2)

	st := d.Statistics()
	if st.OpportunitiesDetected != 3 {
		t.Errorf("учтено %d возможностей, ожидалось 3", st.OpportunitiesDetected)
	}
	if st.MaxProfitPercent != 0.7 {
		t.Errorf("максимум %v%%, ожидалось 0.7%%", st.MaxProfitPercent)
	}
	if st.TotalProfitPercent != 1.2 {
		t.Errorf("сумма %v%%, ожидалось 1.2%%", st.TotalProfitPercent)
	}
	d.Stop()
	waitStopped(t, d)
}

func TestSeekIndex(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	ticks := recordedTicks(base, 10, time.Second)

	if i := seekIndex(ticks, base.Add(4500*time.Millisecond)); i != 5 {
		t.Errorf("seekIndex = %d, ожидалось 5", i)
	}
	if i := seekIndex(ticks, base); i != 0 {
		t.Errorf("seekIndex от начала = %d, ожидалось 0", i)
	}
	if i := seekIndex(ticks, base.Add(time.Hour)); i != len(ticks) {
		t.Errorf("seekIndex за концом = %d, ожидалось %d", i, len(ticks))
	}
}
