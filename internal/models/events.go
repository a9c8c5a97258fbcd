package models

// EventKind - тег типа события на шине.
// Совпадает со значением поля "type" в WebSocket кадрах.
type EventKind string

const (
	KindState        EventKind = "state"
	KindPrice        EventKind = "price"
	KindSimpleOpp    EventKind = "opportunity"
	KindTriangular   EventKind = "triangular_opportunity"
	KindCrossTri     EventKind = "cross_triangular_opportunity"
	KindFuturesSpot  EventKind = "futures_spot_opportunity"
	KindDexCex       EventKind = "dex_cex_opportunity"
	KindLatency      EventKind = "latency_opportunity"
	KindStatArb      EventKind = "stat_arb_signal"
	KindPrediction   EventKind = "ml_prediction"
	KindAnomaly      EventKind = "anomaly"
	KindNotification EventKind = "notification"
)

// Event - типизированное событие шины: тег + полезная нагрузка
type Event struct {
	Kind EventKind   `json:"type"`
	Data interface{} `json:"data"`
}

// Приоритеты событий для политики вытеснения у медленных подписчиков.
// При переполнении очереди первым вытесняется событие низшего приоритета.
const (
	PriorityTick       = 0 // PriceTick
	PriorityPrediction = 1 // Prediction, Anomaly
	PriorityOpp        = 2 // все возможности и сигналы
)

// Priority возвращает приоритет события по его типу
func (e Event) Priority() int {
	switch e.Kind {
	case KindPrice:
		return PriorityTick
	case KindPrediction, KindAnomaly:
		return PriorityPrediction
	default:
		return PriorityOpp
	}
}
