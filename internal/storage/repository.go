package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"

	"arbscan/internal/models"
)

// ============================================================
// Репозиторий тиков и найденных возможностей
// ============================================================

// Repository - работа с таблицами ticks, opportunities и
// triangular_opportunities
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Open подключается к PostgreSQL и проверяет соединение
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate создаёт таблицы, если их нет
func (r *Repository) Migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			id BIGSERIAL PRIMARY KEY,
			exchange TEXT NOT NULL,
			pair TEXT NOT NULL,
			bid DOUBLE PRECISION NOT NULL,
			ask DOUBLE PRECISION NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_ts ON ticks (ts)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_pair_ts ON ticks (pair, ts)`,
		`CREATE TABLE IF NOT EXISTS opportunities (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			pair TEXT NOT NULL,
			buy_exchange TEXT NOT NULL,
			sell_exchange TEXT NOT NULL,
			buy_price DOUBLE PRECISION NOT NULL,
			sell_price DOUBLE PRECISION NOT NULL,
			profit_percent DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_ts ON opportunities (ts)`,
		`CREATE TABLE IF NOT EXISTS triangular_opportunities (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			exchange TEXT NOT NULL,
			base_currency TEXT NOT NULL,
			path TEXT NOT NULL,
			profit_percent DOUBLE PRECISION NOT NULL,
			start_amount DOUBLE PRECISION NOT NULL,
			end_amount DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_triangular_ts ON triangular_opportunities (ts)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveTicks пишет пачку тиков через COPY
func (r *Repository) SaveTicks(ticks []models.PriceUpdate) error {
	if len(ticks) == 0 {
		return nil
	}
	txn, err := r.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := txn.Prepare(pq.CopyIn("ticks", "exchange", "pair", "bid", "ask", "ts"))
	if err != nil {
		txn.Rollback()
		return err
	}
	for _, t := range ticks {
		if _, err := stmt.Exec(t.Exchange, t.Pair, t.Bid, t.Ask, t.Timestamp); err != nil {
			stmt.Close()
			txn.Rollback()
			return err
		}
	}
	if _, err := stmt.Exec(); err != nil {
		stmt.Close()
		txn.Rollback()
		return err
	}
	if err := stmt.Close(); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit()
}

// Ticks возвращает записанные тики диапазона в хронологическом
// порядке. Реализует источник данных для реплея.
func (r *Repository) Ticks(ctx context.Context, from, to time.Time, pairs []string) ([]models.PriceUpdate, error) {
	query := `
		SELECT exchange, pair, bid, ask, ts
		FROM ticks
		WHERE ts >= $1 AND ts <= $2`
	args := []interface{}{from, to}
	if len(pairs) > 0 {
		query += ` AND pair = ANY($3)`
		args = append(args, pq.Array(pairs))
	}
	query += ` ORDER BY ts ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PriceUpdate
	for rows.Next() {
		var u models.PriceUpdate
		if err := rows.Scan(&u.Exchange, &u.Pair, &u.Bid, &u.Ask, &u.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SaveOpportunity сохраняет межбиржевую возможность
func (r *Repository) SaveOpportunity(o models.ArbitrageOpportunity) error {
	query := `
		INSERT INTO opportunities (ts, pair, buy_exchange, sell_exchange, buy_price, sell_price, profit_percent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(query,
		o.Timestamp, o.Pair, o.BuyExchange, o.SellExchange,
		o.BuyPrice, o.SellPrice, o.ProfitPct,
	)
	return err
}

// SaveTriangular сохраняет треугольный цикл
func (r *Repository) SaveTriangular(o models.TriangularOpportunity) error {
	query := `
		INSERT INTO triangular_opportunities (ts, exchange, base_currency, path, profit_percent, start_amount, end_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(query,
		o.Timestamp, o.Exchange, o.BaseCurrency, pathString(o.Steps),
		o.ProfitPct, o.StartAmount, o.EndAmount,
	)
	return err
}

// pathString сериализует шаги цикла в читаемую строку вида
// "buy BTC/USDT -> buy ETH/BTC -> sell ETH/USDT"
func pathString(steps []models.TradeStep) string {
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		parts = append(parts, s.Side+" "+s.Pair)
	}
	return strings.Join(parts, " -> ")
}

// ExportFilter - параметры выборки для экспорта
type ExportFilter struct {
	Hours     int
	MinProfit float64
	Pair      string
}

// Opportunities выбирает межбиржевые возможности по фильтру
func (r *Repository) Opportunities(f ExportFilter) ([]models.ArbitrageOpportunity, error) {
	query := `
		SELECT ts, pair, buy_exchange, sell_exchange, buy_price, sell_price, profit_percent
		FROM opportunities
		WHERE ts >= $1 AND profit_percent >= $2`
	args := []interface{}{time.Now().Add(-time.Duration(f.Hours) * time.Hour), f.MinProfit}
	if f.Pair != "" {
		query += ` AND pair = $3`
		args = append(args, f.Pair)
	}
	query += ` ORDER BY ts DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ArbitrageOpportunity
	for rows.Next() {
		var o models.ArbitrageOpportunity
		if err := rows.Scan(&o.Timestamp, &o.Pair, &o.BuyExchange, &o.SellExchange,
			&o.BuyPrice, &o.SellPrice, &o.ProfitPct); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// TriangularRow - строка экспорта треугольных циклов
type TriangularRow struct {
	Timestamp   time.Time
	Exchange    string
	Base        string
	Path        string
	ProfitPct   float64
	StartAmount float64
	EndAmount   float64
}

// Triangular выбирает треугольные циклы по фильтру
func (r *Repository) Triangular(f ExportFilter) ([]TriangularRow, error) {
	query := `
		SELECT ts, exchange, base_currency, path, profit_percent, start_amount, end_amount
		FROM triangular_opportunities
		WHERE ts >= $1 AND profit_percent >= $2
		ORDER BY ts DESC`

	rows, err := r.db.Query(query,
		time.Now().Add(-time.Duration(f.Hours)*time.Hour), f.MinProfit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TriangularRow
	for rows.Next() {
		var row TriangularRow
		if err := rows.Scan(&row.Timestamp, &row.Exchange, &row.Base, &row.Path,
			&row.ProfitPct, &row.StartAmount, &row.EndAmount); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
