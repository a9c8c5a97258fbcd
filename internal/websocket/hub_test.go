package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"arbscan/internal/bus"
	"arbscan/internal/models"
)

func newTestHub(t *testing.T) (*Hub, *bus.Bus, *httptest.Server) {
	t.Helper()
	b := bus.New(bus.DefaultQueueDepth, bus.DefaultDisconnectAfterDrops)
	h := NewHub(b, func() interface{} {
		return map[string]string{"status": "ok"}
	})
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return h, b, srv
}

func dial(t *testing.T, srv *httptest.Server) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("подключение к %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *gorilla.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("чтение кадра: %v", err)
	}
	return f
}

func TestHubSendsStateFrameFirst(t *testing.T) {
	_, b, srv := newTestHub(t)
	conn := dial(t, srv)

	// События до прочтения снимка не должны его обогнать
	b.Publish(models.Event{Kind: models.KindPrice, Data: models.ExchangeQuote{Exchange: "binance"}})

	first := readFrame(t, conn)
	if first.Type != string(models.KindState) {
		t.Fatalf("первый кадр %s, ожидалось state", first.Type)
	}
	if m, ok := first.Data.(map[string]interface{}); !ok || m["status"] != "ok" {
		t.Errorf("снимок состояния не доехал: %+v", first.Data)
	}
}

func TestHubStreamsEvents(t *testing.T) {
	_, b, srv := newTestHub(t)
	conn := dial(t, srv)

	readFrame(t, conn) // state

	b.Publish(models.Event{
		Kind: models.KindSimpleOpp,
		Data: models.ArbitrageOpportunity{
			Pair:         "BTC/USDT",
			BuyExchange:  "binance",
			SellExchange: "kraken",
			ProfitPct:    0.21,
		},
	})

	f := readFrame(t, conn)
	if f.Type != string(models.KindSimpleOpp) {
		t.Fatalf("тип кадра %s, ожидалось %s", f.Type, models.KindSimpleOpp)
	}
	m, ok := f.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("payload не объект: %T", f.Data)
	}
	if m["pair"] != "BTC/USDT" || m["buy_exchange"] != "binance" {
		t.Errorf("payload кадра неверен: %+v", m)
	}
}

func TestHubPingPong(t *testing.T) {
	_, _, srv := newTestHub(t)
	conn := dial(t, srv)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil { // state
		t.Fatalf("чтение снимка: %v", err)
	}

	if err := conn.WriteMessage(gorilla.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("отправка ping: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("чтение pong: %v", err)
	}
	if string(msg) != "pong" {
		t.Errorf("ответ %q, ожидалось pong", msg)
	}
}

func TestHubClientCount(t *testing.T) {
	h, _, srv := newTestHub(t)

	conn1 := dial(t, srv)
	conn2 := dial(t, srv)
	readFrame(t, conn1)
	readFrame(t, conn2)

	if n := h.ClientCount(); n != 2 {
		t.Fatalf("подключено %d клиентов, ожидалось 2", n)
	}

	conn1.Close()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("отключение клиента не учтено")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOriginChecker(t *testing.T) {
	checker := &OriginChecker{
		allowedOrigins: map[string]struct{}{"https://example.com": {}},
	}
	if !checker.Check("") {
		t.Error("пустой Origin должен пропускаться")
	}
	if !checker.Check("https://example.com") {
		t.Error("разрешённый Origin отклонён")
	}
	if checker.Check("https://evil.example") {
		t.Error("чужой Origin пропущен")
	}
}
