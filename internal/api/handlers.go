package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"arbscan/internal/adapter"
	"arbscan/internal/config"
	"arbscan/internal/engine"
	"arbscan/internal/market"
	"arbscan/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// healthTickWindow - дистанция до последнего тика, при которой
// конвейер считается живым
const healthTickWindow = 30 * time.Second

// ErrorResponse - стандартный формат ошибки API
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Dependencies - всё, что нужно обработчикам
type Dependencies struct {
	Cfg        *config.Config
	Store      *market.Store
	Dispatcher *engine.Dispatcher

	Simple      *engine.SimpleEngine
	Triangular  *engine.TriangularEngine
	CrossTri    *engine.CrossTriangularEngine
	Statistical *engine.StatisticalEngine
	FuturesSpot *engine.FuturesSpotEngine
	DexCex      *engine.DexCexEngine
	Latency     *engine.LatencyEngine
	ML          *engine.MLEngine

	Repo   *storage.Repository
	Replay *adapter.ReplayDriver

	// AdapterStates отдаёт состояние каждого адаптера
	AdapterStates func() map[string]string
}

type handler struct {
	deps *Dependencies
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Заголовки уже ушли, остаётся залогировать
		log.Printf("encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg})
}

// GET /api/state
func (h *handler) state(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"prices":        h.deps.Store.AllQuotes(),
		"opportunities": h.deps.Simple.Opportunities(),
		"history":       h.deps.Simple.History(100),
		"config":        h.deps.Cfg.Public(),
	}
	if h.deps.AdapterStates != nil {
		payload["exchanges"] = h.deps.AdapterStates()
	}
	respondJSON(w, http.StatusOK, payload)
}

// GET /api/triangular
func (h *handler) triangular(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.Triangular.State())
}

// GET /api/cross-triangular
func (h *handler) crossTriangular(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.CrossTri.State())
}

// GET /api/statistical
func (h *handler) statistical(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.Statistical.State())
}

// GET /api/futures-spot
func (h *handler) futuresSpot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.FuturesSpot.State())
}

// GET /api/dex-cex
func (h *handler) dexCex(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.DexCex.State())
}

// GET /api/latency
func (h *handler) latency(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.Latency.State())
}

// GET /api/ml/predictions
func (h *handler) mlPredictions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.ML.State())
}

// GET /api/orderbook/{pair}
func (h *handler) orderbook(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	quotes := h.deps.Store.QuotesFor(pair)
	if len(quotes) == 0 {
		respondError(w, http.StatusNotFound, "no quotes for pair "+pair)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"pair":   pair,
		"quotes": quotes,
	})
}

// GET /healthz
func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	last := h.deps.Dispatcher.LastTickAt()
	if last.IsZero() || time.Since(last) > healthTickWindow {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":       "stale",
			"last_tick_at": last,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"last_tick_at": last,
	})
}

// exportFilter читает hours / min_profit / pair из query
func exportFilter(r *http.Request) (storage.ExportFilter, error) {
	f := storage.ExportFilter{Hours: 24}
	q := r.URL.Query()
	if v := q.Get("hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			return f, fmt.Errorf("bad hours %q", v)
		}
		f.Hours = hours
	}
	if v := q.Get("min_profit"); v != "" {
		minProfit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, fmt.Errorf("bad min_profit %q", v)
		}
		f.MinProfit = minProfit
	}
	f.Pair = q.Get("pair")
	return f, nil
}

// GET /api/export/opportunities/csv
func (h *handler) exportOpportunities(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo == nil {
		respondError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	f, err := exportFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.deps.Repo.Opportunities(f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="opportunities.csv"`)
	storage.WriteOpportunitiesCSV(w, rows)
}

// GET /api/export/triangular/csv
func (h *handler) exportTriangular(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo == nil {
		respondError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	f, err := exportFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.deps.Repo.Triangular(f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="triangular.csv"`)
	storage.WriteTriangularCSV(w, rows)
}

// replayRequest - тело POST /api/replay
type replayRequest struct {
	Action string `json:"action"` // start | pause | resume | stop | seek
	adapter.ReplayOptions
	SeekTo time.Time `json:"seek_to,omitempty"`
}

// GET /api/replay
func (h *handler) replayStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Replay == nil {
		respondError(w, http.StatusServiceUnavailable, "replay not available in this mode")
		return
	}
	respondJSON(w, http.StatusOK, h.deps.Replay.Statistics())
}

// POST /api/replay
func (h *handler) replayControl(w http.ResponseWriter, r *http.Request) {
	if h.deps.Replay == nil {
		respondError(w, http.StatusServiceUnavailable, "replay not available in this mode")
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request body: "+err.Error())
		return
	}

	switch req.Action {
	case "start":
		// Прогон живёт дольше запроса, r.Context() не годится
		if err := h.deps.Replay.Start(context.Background(), req.ReplayOptions); err != nil {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
	case "pause":
		h.deps.Replay.Pause()
	case "resume":
		h.deps.Replay.Resume()
	case "stop":
		h.deps.Replay.Stop()
	case "seek":
		h.deps.Replay.Seek(req.SeekTo)
	default:
		respondError(w, http.StatusBadRequest, "unknown action "+req.Action)
		return
	}
	respondJSON(w, http.StatusOK, h.deps.Replay.Statistics())
}
