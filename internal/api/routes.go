package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ws "arbscan/internal/websocket"
)

// SetupRoutes собирает все HTTP-маршруты сервера
//
// /api/
//
//	├── GET /state - снимок рынка, активные возможности, конфиг
//	├── GET /triangular - состояние треугольного движка
//	├── GET /cross-triangular - циклы через несколько бирж
//	├── GET /statistical - z-score сигналы по парам бирж
//	├── GET /futures-spot - фандинг и базис перпетуалов
//	├── GET /dex-cex - связки DEX-пулов с биржами
//	├── GET /latency - отставшие фиды
//	├── GET /ml/predictions - предсказания, аномалии, режимы
//	├── GET /orderbook/{pair} - лучшие bid/ask по биржам
//	├── GET|POST /replay - статус и управление реплеем
//	└── GET /export/{opportunities,triangular}/csv - выгрузка
//
// /ws - поток событий, /metrics - Prometheus, /healthz - живость
func SetupRoutes(deps *Dependencies, hub *ws.Hub) *mux.Router {
	router := mux.NewRouter()

	router.Use(Recovery)
	router.Use(Logging)
	router.Use(CORS)

	h := &handler{deps: deps}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", h.state).Methods("GET")
	api.HandleFunc("/triangular", h.triangular).Methods("GET")
	api.HandleFunc("/cross-triangular", h.crossTriangular).Methods("GET")
	api.HandleFunc("/statistical", h.statistical).Methods("GET")
	api.HandleFunc("/futures-spot", h.futuresSpot).Methods("GET")
	api.HandleFunc("/dex-cex", h.dexCex).Methods("GET")
	api.HandleFunc("/latency", h.latency).Methods("GET")
	api.HandleFunc("/ml/predictions", h.mlPredictions).Methods("GET")
	api.HandleFunc("/orderbook/{pair:.+}", h.orderbook).Methods("GET")
	api.HandleFunc("/replay", h.replayStatus).Methods("GET")
	api.HandleFunc("/replay", h.replayControl).Methods("POST")
	api.HandleFunc("/export/opportunities/csv", h.exportOpportunities).Methods("GET")
	api.HandleFunc("/export/triangular/csv", h.exportTriangular).Methods("GET")

	if hub != nil {
		router.HandleFunc("/ws", hub.ServeWS)
	}
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", h.healthz).Methods("GET")

	// Статика дашборда, если собрана
	router.PathPrefix("/").Handler(http.FileServer(http.Dir("./web/dist")))

	return router
}
