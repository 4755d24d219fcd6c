package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lox/plantwatch/internal/models"
)

type fakeConn struct {
	in        chan Message
	sent      chan Message
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan Message, 16),
		sent:   make(chan Message, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(m Message) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.sent <- m
	return nil
}

func (c *fakeConn) Receive() (Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.closed:
		return Message{}, errConnClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeTransport struct {
	mu    sync.Mutex
	fail  int
	dials int
	conns chan *fakeConn
	ctxs  []context.Context
}

func newFakeTransport(fail int) *fakeTransport {
	return &fakeTransport{fail: fail, conns: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	t.ctxs = append(t.ctxs, ctx)
	if t.fail < 0 || t.dials <= t.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	t.conns <- c
	return c, nil
}

func (t *fakeTransport) dialContext(i int) context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctxs[i]
}

func (t *fakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func healthMessage(plantID int, label string) Message {
	data, _ := json.Marshal(map[string]any{"plant_id": plantID, "predicted_health": label})
	return Message{Event: string(EventHealthUpdate), Data: data}
}

func testConfig() Config {
	return Config{Retries: 2, Interval: 10 * time.Millisecond}
}

func TestChannel_SubscribeRequiresConnection(t *testing.T) {
	tr := newFakeTransport(-1)
	ch := NewChannel(tr, testConfig())
	if ch.Subscribe(1) {
		t.Fatal("Subscribe before Connect should be a no-op")
	}
	if ch.State() != models.Disconnected {
		t.Errorf("state = %s, want disconnected", ch.State())
	}
}

func TestChannel_ConnectAndSubscribe(t *testing.T) {
	tr := newFakeTransport(0)
	ch := NewChannel(tr, testConfig())
	defer ch.Disconnect()

	ch.Start(context.Background())
	conn := <-tr.conns
	waitFor(t, "connected", func() bool { return ch.State() == models.Connected })

	if state := ch.Connect(); state != models.Connected {
		t.Errorf("second Connect = %s, want connected", state)
	}
	if tr.Dials() != 1 {
		t.Errorf("dials = %d, want 1", tr.Dials())
	}

	if !ch.Subscribe(3) {
		t.Fatal("Subscribe while connected should send")
	}
	msg := <-conn.sent
	if msg.Event != "subscribe_plant" || string(msg.Data) != `{"plant_id":3}` {
		t.Errorf("sent %s %s", msg.Event, msg.Data)
	}
}

func TestChannel_LastHandlerWins(t *testing.T) {
	tr := newFakeTransport(0)
	ch := NewChannel(tr, testConfig())
	defer ch.Disconnect()

	var mu sync.Mutex
	var first, second []int
	ch.On(EventHealthUpdate, func(e Event) {
		mu.Lock()
		first = append(first, e.PlantID)
		mu.Unlock()
	})
	ch.On(EventHealthUpdate, func(e Event) {
		mu.Lock()
		second = append(second, e.PlantID)
		mu.Unlock()
	})

	ch.Connect()
	conn := <-tr.conns
	conn.in <- Message{Event: "plant_watering_update", Data: json.RawMessage(`{"plant_id": 1}`)}
	conn.in <- Message{Event: string(EventHealthUpdate), Data: json.RawMessage(`{"predicted_health": "Healthy"}`)}
	conn.in <- healthMessage(4, "Healthy")

	waitFor(t, "health event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(second) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if len(first) != 0 {
		t.Errorf("replaced handler received %v", first)
	}
	if second[0] != 4 {
		t.Errorf("plant id = %d, want 4", second[0])
	}
}

func TestChannel_EventDecoding(t *testing.T) {
	tr := newFakeTransport(0)
	ch := NewChannel(tr, testConfig())
	defer ch.Disconnect()

	got := make(chan Event, 1)
	ch.On(EventForecastUpdate, func(e Event) { got <- e })
	ch.Connect()
	conn := <-tr.conns
	conn.in <- Message{
		Event: string(EventForecastUpdate),
		Data:  json.RawMessage(`{"plant_id": 2, "forecast": [{"date": "2024-05-01 10:00:00", "humidity": 44, "predicted_health": "Healthy"}]}`),
	}

	select {
	case e := <-got:
		f, err := e.Forecast()
		if err != nil {
			t.Fatalf("Forecast: %v", err)
		}
		if f.PlantID != 2 || len(f.Points) != 1 || *f.Points[0].Humidity != 44 {
			t.Errorf("forecast = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no forecast event dispatched")
	}
}

func TestChannel_BoundedRetries(t *testing.T) {
	tr := newFakeTransport(-1)
	ch := NewChannel(tr, testConfig())

	var mu sync.Mutex
	var lastErr error
	ch.OnStateChange(func(state models.ConnectionState, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			lastErr = err
		}
	})

	ch.Connect()
	waitFor(t, "retry budget exhausted", func() bool {
		return tr.Dials() == 3 && ch.State() == models.Disconnected && ch.Connect() == models.Connecting
	})

	mu.Lock()
	if lastErr == nil {
		t.Error("connection failure was not reported to listeners")
	}
	mu.Unlock()

	if err := tr.dialContext(2).Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("dial context after giving up: err = %v, want canceled", err)
	}

	waitFor(t, "second attempt cycle", func() bool { return tr.Dials() == 6 })
	ch.Disconnect()
	if ch.State() != models.Disconnected {
		t.Errorf("state = %s, want disconnected", ch.State())
	}
}

func TestChannel_ReconnectsAfterLoss(t *testing.T) {
	tr := newFakeTransport(0)
	ch := NewChannel(tr, testConfig())
	defer ch.Disconnect()

	var mu sync.Mutex
	var states []models.ConnectionState
	ch.OnStateChange(func(state models.ConnectionState, err error) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	})

	ch.Connect()
	first := <-tr.conns
	waitFor(t, "connected", func() bool { return ch.State() == models.Connected })

	first.Close()
	second := <-tr.conns
	waitFor(t, "reconnected", func() bool { return ch.State() == models.Connected })

	if !ch.Subscribe(1) {
		t.Fatal("Subscribe after reconnect should send")
	}
	if m := <-second.sent; m.Event != "subscribe_plant" {
		t.Errorf("sent %s on new connection", m.Event)
	}

	mu.Lock()
	defer mu.Unlock()
	sawDisconnect := false
	for _, s := range states {
		if s == models.Disconnected {
			sawDisconnect = true
		}
	}
	if !sawDisconnect {
		t.Errorf("states = %v, want a disconnected transition", states)
	}
}

func TestChannel_DisconnectReleasesTransport(t *testing.T) {
	tr := newFakeTransport(0)
	ch := NewChannel(tr, testConfig())

	ch.Connect()
	conn := <-tr.conns
	waitFor(t, "connected", func() bool { return ch.State() == models.Connected })

	ch.Disconnect()
	select {
	case <-conn.closed:
	default:
		t.Error("connection was not closed")
	}
	if ch.Subscribe(1) {
		t.Error("Subscribe after Disconnect should be a no-op")
	}
	if tr.Dials() != 1 {
		t.Errorf("dials = %d, want no reconnection after Disconnect", tr.Dials())
	}
}

func TestChannel_StartContextCancel(t *testing.T) {
	tr := newFakeTransport(-1)
	ch := NewChannel(tr, Config{Retries: 100, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	ch.Start(ctx)
	waitFor(t, "first dial", func() bool { return tr.Dials() >= 1 })
	cancel()
	ch.Stop()

	n := tr.Dials()
	time.Sleep(50 * time.Millisecond)
	if tr.Dials() != n {
		t.Error("channel kept dialling after Stop")
	}
}

func TestWebsocketTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()

		var m Message
		if err := ws.ReadJSON(&m); err != nil {
			return
		}
		subscribed <- string(m.Data)
		ws.WriteMessage(websocket.TextMessage, []byte("not json"))
		ws.WriteJSON(Message{
			Event: string(EventSensorReading),
			Data:  json.RawMessage(`{"plant_id": 3, "timestamp": "2024-05-01 10:00:00", "readings": {"soil_moisture": 52.5}}`),
		})
		ws.ReadMessage()
	}))
	defer srv.Close()

	ch := NewChannel(NewWebsocketTransport("ws"+strings.TrimPrefix(srv.URL, "http")), testConfig())
	defer ch.Disconnect()

	got := make(chan Event, 1)
	ch.On(EventSensorReading, func(e Event) { got <- e })
	ch.Connect()
	waitFor(t, "connected", func() bool { return ch.State() == models.Connected })

	if !ch.Subscribe(3) {
		t.Fatal("Subscribe failed")
	}
	if data := <-subscribed; data != `{"plant_id":3}` {
		t.Errorf("subscribe payload = %s", data)
	}

	select {
	case e := <-got:
		s, err := e.Sensor()
		if err != nil {
			t.Fatalf("Sensor: %v", err)
		}
		if s.PlantID != 3 || s.Readings.SoilMoisture == nil || *s.Readings.SoilMoisture != 52.5 {
			t.Errorf("sensor update = %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no sensor event received")
	}
}

func TestMQTTTransportTopics(t *testing.T) {
	tr := NewMQTTTransport("tcp://localhost:1883", "greenhouse/")
	if got := tr.eventTopic(); got != "greenhouse/events/+" {
		t.Errorf("eventTopic = %q", got)
	}
	if got := tr.commandTopic("subscribe_plant"); got != "greenhouse/commands/subscribe_plant" {
		t.Errorf("commandTopic = %q", got)
	}
}
