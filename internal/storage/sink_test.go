package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"arbscan/internal/models"
)

func TestTickWriterEnqueueNeverBlocks(t *testing.T) {
	w := NewTickWriter(nil)

	// Писатель не запущен: буфер заполняется и начинает вытеснять,
	// но Enqueue не должен блокировать
	done := make(chan struct{})
	go func() {
		for i := 0; i < sinkBufferDepth*2; i++ {
			w.Enqueue(models.PriceUpdate{Exchange: "binance", Pair: "BTC/USDT", Bid: 1, Ask: 2})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue заблокировался на полном буфере")
	}
}

func TestTickWriterFlushesOnShutdown(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`COPY "ticks"`)
	prep.ExpectExec().
		WithArgs("binance", "BTC/USDT", 65000.0, 65010.0, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := NewTickWriter(NewRepository(db))
	ctx, cancel := context.WithCancel(context.Background())
	w.Run(ctx)

	w.Enqueue(models.PriceUpdate{Exchange: "binance", Pair: "BTC/USDT", Bid: 65000, Ask: 65010, Timestamp: ts})
	// Отмена до флеш-интервала: остаток буфера дописывается при выходе
	cancel()
	w.Wait()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("остаток буфера не дописан: %v", err)
	}
}
