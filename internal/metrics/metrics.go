package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики пайплайна
// ============================================================

var (
	// Поток тиков

	TicksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "pipeline",
		Name:      "ticks_processed_total",
		Help:      "Зафиксированные диспетчером тики",
	}, []string{"exchange", "pair"})

	InvalidTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "pipeline",
		Name:      "invalid_ticks_total",
		Help:      "Тики, отброшенные валидацией (bid<=0 или ask<bid)",
	})

	IngressDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "pipeline",
		Name:      "ingress_dropped_total",
		Help:      "Тики, вытесненные из входной очереди диспетчера",
	}, []string{"exchange", "pair"})

	TickProcessing = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arbscan",
		Subsystem: "pipeline",
		Name:      "tick_processing_seconds",
		Help:      "Полное время обработки тика всеми движками",
		Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
	})

	// Движки

	EngineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arbscan",
		Subsystem: "engine",
		Name:      "duration_seconds",
		Help:      "Время работы движка на одном тике",
		Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025},
	}, []string{"engine"})

	EngineTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "engine",
		Name:      "timeout_total",
		Help:      "Тики, на которых движок превысил дедлайн и вывод отброшен",
	}, []string{"engine"})

	EngineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "engine",
		Name:      "error_total",
		Help:      "Паники движков, изолированные диспетчером",
	}, []string{"engine"})

	Opportunities = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "engine",
		Name:      "opportunities_total",
		Help:      "Опубликованные события по типам",
	}, []string{"kind"})

	// Брокер подписчиков

	BrokerDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "broker",
		Name:      "dropped_total",
		Help:      "События, вытесненные из очередей медленных подписчиков",
	}, []string{"kind"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbscan",
		Subsystem: "broker",
		Name:      "subscribers",
		Help:      "Текущее число подписчиков шины",
	})

	// Адаптеры бирж

	AdapterReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "adapter",
		Name:      "reconnects_total",
		Help:      "Попытки переподключения адаптера",
	}, []string{"exchange"})

	AdapterState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "arbscan",
		Subsystem: "adapter",
		Name:      "state",
		Help:      "Состояние адаптера (0=disconnected..5=gave_up)",
	}, []string{"exchange"})

	MalformedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "adapter",
		Name:      "malformed_messages_total",
		Help:      "Нераспознанные сообщения фида, отброшенные молча",
	}, []string{"exchange"})

	// Синк временных рядов

	SinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "sink",
		Name:      "errors_total",
		Help:      "Ошибки записи в хранилище тиков (best-effort)",
	})

	SinkWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "sink",
		Name:      "ticks_written_total",
		Help:      "Тики, записанные в хранилище",
	})
)
