package storage

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"testing"
	"time"

	"arbscan/internal/models"
)

func TestWriteOpportunitiesCSVRoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
	in := []models.ArbitrageOpportunity{
		{Pair: "BTC/USDT", BuyExchange: "binance", SellExchange: "kraken",
			BuyPrice: 65010, SellPrice: 65150, ProfitPct: 0.2153515, Timestamp: ts},
		{Pair: "ETH/USDT", BuyExchange: "coinbase", SellExchange: "bybit",
			BuyPrice: 3000.5, SellPrice: 3010.25, ProfitPct: 0.3249458, Timestamp: ts.Add(time.Minute)},
	}

	var buf bytes.Buffer
	if err := WriteOpportunitiesCSV(&buf, in); err != nil {
		t.Fatalf("WriteOpportunitiesCSV: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("разбор CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("получено %d строк, ожидалось заголовок + 2", len(records))
	}

	wantHeader := []string{"timestamp", "pair", "buy_exchange", "sell_exchange",
		"buy_price", "sell_price", "profit_percent"}
	for i, col := range wantHeader {
		if records[0][i] != col {
			t.Errorf("колонка %d: %s, ожидалось %s", i, records[0][i], col)
		}
	}

	for i, o := range in {
		rec := records[i+1]
		parsedTs, err := time.Parse("2006-01-02T15:04:05.000Z", rec[0])
		if err != nil {
			t.Fatalf("строка %d: метка времени %q не разбирается: %v", i, rec[0], err)
		}
		if !parsedTs.Equal(o.Timestamp) {
			t.Errorf("строка %d: метка времени %v, ожидалось %v", i, parsedTs, o.Timestamp)
		}
		if rec[1] != o.Pair || rec[2] != o.BuyExchange || rec[3] != o.SellExchange {
			t.Errorf("строка %d: атрибуция %v неверна", i, rec[1:4])
		}
		profit, err := strconv.ParseFloat(rec[6], 64)
		if err != nil || profit != o.ProfitPct {
			t.Errorf("строка %d: профит %q не восстановился в %v", i, rec[6], o.ProfitPct)
		}
	}
}

func TestWriteTriangularCSV(t *testing.T) {
	ts := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
	in := []TriangularRow{{
		Timestamp:   ts,
		Exchange:    "binance",
		Base:        "USDT",
		Path:        "buy BTC/USDT -> buy ETH/BTC -> sell ETH/USDT",
		ProfitPct:   0.35,
		StartAmount: 10000,
		EndAmount:   10035,
	}}

	var buf bytes.Buffer
	if err := WriteTriangularCSV(&buf, in); err != nil {
		t.Fatalf("WriteTriangularCSV: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("разбор CSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("получено %d строк, ожидалось 2", len(records))
	}
	// Путь с запятыми и стрелками должен пережить экранирование
	if records[1][3] != in[0].Path {
		t.Errorf("путь %q не восстановился", records[1][3])
	}
	if records[1][5] != "10000" || records[1][6] != "10035" {
		t.Errorf("суммы %v неверны", records[1][5:])
	}
}
