package websocket

import (
	"bytes"
	"log"
	"net/http"
	"sync"

	gorilla "github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"arbscan/internal/bus"
	"arbscan/internal/metrics"
	"arbscan/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============================================================
// Раздача событий конвейера по WebSocket
// ============================================================

// Пул JSON-буферов: Broadcast дёргается на каждом событии конвейера,
// без пула это тысячи аллокаций в секунду
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Frame - кадр протокола: {"type": "...", "data": {...}}
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StateFunc отдаёт снимок состояния рынка для первого кадра
// нового клиента
type StateFunc func() interface{}

// Hub поднимает WebSocket-соединения и прокидывает в них события
// шины. Каждый клиент получает собственную подписку: медленного
// потребителя отключает сама шина, не задевая остальных.
type Hub struct {
	bus   *bus.Bus
	state StateFunc
	kinds []models.EventKind

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

func NewHub(b *bus.Bus, state StateFunc, kinds ...models.EventKind) *Hub {
	return &Hub{
		bus:     b,
		state:   state,
		kinds:   kinds,
		clients: make(map[*Client]struct{}),
	}
}

var upgrader = gorilla.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: true,
	CheckOrigin: func(r *http.Request) bool {
		return originChecker.Check(r.Header.Get("Origin"))
	},
}

// ServeWS апгрейдит HTTP-запрос и запускает горутины клиента
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] апгрейд не удался: %v", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		sub:  h.bus.Subscribe(h.kinds...),
		pong: make(chan struct{}, 4),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		client.sub.Close()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.Subscribers.Set(float64(n))
	log.Printf("[ws] клиент подключён, всего %d", n)

	go client.writePump(h.snapshotFrame())
	go client.readPump()
}

// snapshotFrame кодирует первый кадр нового клиента
func (h *Hub) snapshotFrame() []byte {
	var data interface{}
	if h.state != nil {
		data = h.state()
	}
	raw, err := encodeFrame(Frame{Type: string(models.KindState), Data: data})
	if err != nil {
		log.Printf("[ws] снимок состояния не сериализуется: %v", err)
		return nil
	}
	return raw
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.Subscribers.Set(float64(n))
		log.Printf("[ws] клиент отключён, всего %d", n)
	}
}

// ClientCount возвращает число подключённых клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown закрывает все соединения
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.sub.Close()
		c.conn.Close()
	}
}

// encodeFrame сериализует кадр через пул буферов
func encodeFrame(f Frame) ([]byte, error) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(f); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
