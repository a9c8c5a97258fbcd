package storage

import (
	"encoding/csv"
	"io"
	"strconv"

	"arbscan/internal/models"
)

// ============================================================
// Экспорт в CSV
// ============================================================

// WriteOpportunitiesCSV пишет межбиржевые возможности в CSV
func WriteOpportunitiesCSV(w io.Writer, rows []models.ArbitrageOpportunity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"timestamp", "pair", "buy_exchange", "sell_exchange",
		"buy_price", "sell_price", "profit_percent",
	}); err != nil {
		return err
	}
	for _, o := range rows {
		rec := []string{
			o.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			o.Pair,
			o.BuyExchange,
			o.SellExchange,
			formatFloat(o.BuyPrice),
			formatFloat(o.SellPrice),
			formatFloat(o.ProfitPct),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTriangularCSV пишет треугольные циклы в CSV
func WriteTriangularCSV(w io.Writer, rows []TriangularRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"timestamp", "exchange", "base_currency", "path",
		"profit_percent", "start_amount", "end_amount",
	}); err != nil {
		return err
	}
	for _, row := range rows {
		rec := []string{
			row.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			row.Exchange,
			row.Base,
			row.Path,
			formatFloat(row.ProfitPct),
			formatFloat(row.StartAmount),
			formatFloat(row.EndAmount),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
