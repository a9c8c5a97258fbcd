package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"arbscan/internal/models"
)

// Режимы источника тиков
const (
	ModeLive       = "live"
	ModeSimulation = "simulation"
	ModeReplay     = "replay"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Pipeline PipelineConfig
	Engines  EngineConfig
	Sim      SimConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig - настройки подключения к PostgreSQL.
// Хранилище опционально: при Enabled=false тики не архивируются
// и режим replay недоступен.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// PipelineConfig - источник тиков и параметры конвейера
type PipelineConfig struct {
	Mode  string
	Pairs []string

	EngineDeadline       time.Duration
	IngressDepth         int
	QueueDepth           int
	DisconnectAfterDrops int
	GracefulShutdown     time.Duration

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// EngineConfig - пороги и комиссии движков
type EngineConfig struct {
	MinProfitThreshold          float64
	MinTriangularThreshold      float64
	MinCrossTriangularThreshold float64
	MaxTransferTimeMs           int64

	MinFundingRate       float64
	MinFundingAnnualized float64
	MaxBasisPercent      float64

	MaxPriceImpact         float64
	MinDexCexProfitPercent float64
	MaxDexTradeSizeUSD     float64

	MinLatencyPriceDiffPercent float64
	MinStalenessMs             float64
	MaxLatencyWindowMs         float64

	ZEntry         float64
	ZExit          float64
	MinCorrelation float64
	MinHistory     int

	MLThreshold        float64
	StaleFeedSeconds   float64
	SpikeThresholdPct  float64
	DesyncThresholdPct float64

	TradingFee   float64
	ExchangeFees map[string]float64
	GasPriceGwei map[string]float64
	StartAmount  float64
}

// SimConfig - параметры симуляции и синтетических источников
type SimConfig struct {
	Seed         int64
	TickInterval time.Duration

	// Derivatives включает синтетические фандинги и DEX-пулы:
	// движки futures-spot и dex-cex без них молчат
	Derivatives bool
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	mode := getEnv("MODE", ModeSimulation)

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "arbscan"),
			User:     getEnv("DB_USER", "arbscan"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Pipeline: PipelineConfig{
			Mode:  mode,
			Pairs: getEnvAsList("PAIRS", []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT"}),

			EngineDeadline:       getEnvAsDuration("ENGINE_DEADLINE", 25*time.Millisecond),
			IngressDepth:         getEnvAsInt("INGRESS_DEPTH", 4096),
			QueueDepth:           getEnvAsInt("QUEUE_DEPTH", 256),
			DisconnectAfterDrops: getEnvAsInt("DISCONNECT_AFTER_DROPS", 32),
			GracefulShutdown:     getEnvAsDuration("GRACEFUL_SHUTDOWN", 5*time.Second),

			ReconnectDelay:       getEnvAsDuration("RECONNECT_DELAY", 5*time.Second),
			MaxReconnectAttempts: getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10),
		},
		Engines: EngineConfig{
			MinProfitThreshold:          getEnvAsFloat("MIN_PROFIT_THRESHOLD", 0.01),
			MinTriangularThreshold:      getEnvAsFloat("MIN_TRIANGULAR_THRESHOLD", 0.1),
			MinCrossTriangularThreshold: getEnvAsFloat("MIN_CROSS_TRIANGULAR_THRESHOLD", 0.3),
			MaxTransferTimeMs:           int64(getEnvAsInt("MAX_TRANSFER_TIME_MS", 120000)),

			MinFundingRate:       getEnvAsFloat("MIN_FUNDING_RATE", 0.0001),
			MinFundingAnnualized: getEnvAsFloat("MIN_FUNDING_ANNUALIZED", 5.0),
			MaxBasisPercent:      getEnvAsFloat("MAX_BASIS_PERCENT", 0.5),

			MaxPriceImpact:         getEnvAsFloat("MAX_PRICE_IMPACT", 0.005),
			MinDexCexProfitPercent: getEnvAsFloat("MIN_DEX_CEX_PROFIT_PERCENT", 0.1),
			MaxDexTradeSizeUSD:     getEnvAsFloat("MAX_DEX_TRADE_SIZE_USD", 50000),

			MinLatencyPriceDiffPercent: getEnvAsFloat("MIN_LATENCY_PRICE_DIFF_PERCENT", 0.05),
			MinStalenessMs:             getEnvAsFloat("MIN_STALENESS_MS", 500),
			MaxLatencyWindowMs:         getEnvAsFloat("MAX_LATENCY_WINDOW_MS", 2000),

			ZEntry:         getEnvAsFloat("Z_ENTRY", 2.0),
			ZExit:          getEnvAsFloat("Z_EXIT", 0.5),
			MinCorrelation: getEnvAsFloat("MIN_CORRELATION", 0.7),
			MinHistory:     getEnvAsInt("MIN_HISTORY", 100),

			MLThreshold:        getEnvAsFloat("ML_THRESHOLD", 0.6),
			StaleFeedSeconds:   getEnvAsFloat("STALE_FEED_SECONDS", 3.0),
			SpikeThresholdPct:  getEnvAsFloat("SPIKE_THRESHOLD_PCT", 1.0),
			DesyncThresholdPct: getEnvAsFloat("DESYNC_THRESHOLD_PCT", 0.5),

			TradingFee:   getEnvAsFloat("TRADING_FEE", 0.001),
			ExchangeFees: getEnvAsFees("EXCHANGE_FEES"),
			GasPriceGwei: getEnvAsFees("GAS_PRICE_GWEI"),
			StartAmount:  getEnvAsFloat("START_AMOUNT", 10000),
		},
		Sim: SimConfig{
			Seed:         int64(getEnvAsInt("SIM_SEED", 42)),
			TickInterval: getEnvAsDuration("SIM_TICK_INTERVAL", 100*time.Millisecond),
			// В live-режиме синтетика по умолчанию выключена
			Derivatives: getEnvAsBool("SIM_DERIVATIVES", mode != ModeLive),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate отклоняет конфигурацию, с которой конвейер не сможет
// работать. Единственная жёсткая ошибка старта.
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Pipeline.Mode {
	case ModeLive, ModeSimulation, ModeReplay:
	default:
		return fmt.Errorf("MODE must be live, simulation or replay, got %q", c.Pipeline.Mode)
	}
	if c.Pipeline.Mode == ModeReplay && !c.Database.Enabled {
		return fmt.Errorf("MODE=replay requires DB_ENABLED=true")
	}

	if len(c.Pipeline.Pairs) == 0 {
		return fmt.Errorf("PAIRS must not be empty")
	}
	for _, p := range c.Pipeline.Pairs {
		if !models.IsCanonicalPair(p) {
			return fmt.Errorf("pair %q is not canonical BASE/QUOTE", p)
		}
	}

	if c.Pipeline.EngineDeadline <= 0 {
		return fmt.Errorf("ENGINE_DEADLINE must be positive, got %v", c.Pipeline.EngineDeadline)
	}
	if c.Pipeline.IngressDepth < 1 {
		return fmt.Errorf("INGRESS_DEPTH must be at least 1, got %d", c.Pipeline.IngressDepth)
	}
	if c.Pipeline.QueueDepth < 1 {
		return fmt.Errorf("QUEUE_DEPTH must be at least 1, got %d", c.Pipeline.QueueDepth)
	}
	if c.Pipeline.DisconnectAfterDrops < 1 {
		return fmt.Errorf("DISCONNECT_AFTER_DROPS must be at least 1, got %d", c.Pipeline.DisconnectAfterDrops)
	}
	if c.Pipeline.MaxReconnectAttempts < 1 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be at least 1, got %d", c.Pipeline.MaxReconnectAttempts)
	}

	if c.Engines.TradingFee < 0 || c.Engines.TradingFee > 0.1 {
		return fmt.Errorf("TRADING_FEE must be in [0, 0.1], got %v", c.Engines.TradingFee)
	}
	for ex, fee := range c.Engines.ExchangeFees {
		if fee < 0 || fee > 0.1 {
			return fmt.Errorf("fee for %s must be in [0, 0.1], got %v", ex, fee)
		}
	}
	if c.Engines.StartAmount <= 0 {
		return fmt.Errorf("START_AMOUNT must be positive, got %v", c.Engines.StartAmount)
	}
	if c.Engines.ZEntry <= 0 {
		return fmt.Errorf("Z_ENTRY must be positive, got %v", c.Engines.ZEntry)
	}
	if c.Engines.MinHistory < 2 {
		return fmt.Errorf("MIN_HISTORY must be at least 2, got %d", c.Engines.MinHistory)
	}
	if c.Engines.MinCorrelation < -1 || c.Engines.MinCorrelation > 1 {
		return fmt.Errorf("MIN_CORRELATION must be in [-1, 1], got %v", c.Engines.MinCorrelation)
	}
	if c.Engines.MaxPriceImpact <= 0 || c.Engines.MaxPriceImpact > 1 {
		return fmt.Errorf("MAX_PRICE_IMPACT must be in (0, 1], got %v", c.Engines.MaxPriceImpact)
	}

	return nil
}

// Public возвращает срез конфигурации для отдачи наружу,
// без реквизитов базы
func (c *Config) Public() map[string]interface{} {
	return map[string]interface{}{
		"mode":                           c.Pipeline.Mode,
		"pairs":                          c.Pipeline.Pairs,
		"min_profit_threshold":           c.Engines.MinProfitThreshold,
		"min_triangular_threshold":       c.Engines.MinTriangularThreshold,
		"min_cross_triangular_threshold": c.Engines.MinCrossTriangularThreshold,
		"min_funding_rate":               c.Engines.MinFundingRate,
		"min_funding_annualized":         c.Engines.MinFundingAnnualized,
		"max_basis_percent":              c.Engines.MaxBasisPercent,
		"max_price_impact":               c.Engines.MaxPriceImpact,
		"min_dex_cex_profit_percent":     c.Engines.MinDexCexProfitPercent,
		"min_latency_price_diff_percent": c.Engines.MinLatencyPriceDiffPercent,
		"z_entry":                        c.Engines.ZEntry,
		"z_exit":                         c.Engines.ZExit,
		"min_correlation":                c.Engines.MinCorrelation,
		"min_history":                    c.Engines.MinHistory,
		"trading_fee":                    c.Engines.TradingFee,
		"start_amount":                   c.Engines.StartAmount,
	}
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword - строка подключения для логов
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает comma-separated список
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsFees разбирает пары "имя:число" через запятую,
// например "binance:0.001,kraken:0.002" или "ethereum:25,bsc:3"
func getEnvAsFees(key string) map[string]float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	fees := make(map[string]float64)
	for _, item := range strings.Split(valueStr, ",") {
		parts := strings.SplitN(strings.TrimSpace(item), ":", 2)
		if len(parts) != 2 {
			continue
		}
		fee, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		fees[strings.ToLower(parts[0])] = fee
	}
	if len(fees) == 0 {
		return nil
	}
	return fees
}
