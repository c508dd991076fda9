package publish

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/cost-ruler/internal/estimator"
	"jordanella.com/cost-ruler/internal/events"
)

func snapshot(frame int) estimator.Snapshot {
	name := "default"
	return estimator.Snapshot{
		IsRunning:          true,
		CurrentFrame:       &frame,
		TotalFramesInCycle: 30,
		TotalElapsedFrames: 100 + frame,
		ActiveProfile:      &name,
		Timecode:           estimator.Timecode(100+frame, 30),
	}
}

func TestFanout(t *testing.T) {
	var got []int
	f := NewFanout(Func(func(s estimator.Snapshot) { got = append(got, *s.CurrentFrame) }))
	f.Add(Func(func(s estimator.Snapshot) { got = append(got, -*s.CurrentFrame) }))

	f.Publish(snapshot(3))
	assert.Equal(t, []int{3, -3}, got)
}

func TestBusPublisherDropsWhenFull(t *testing.T) {
	bus := events.NewEventBus(1)
	defer bus.Stop()

	block := make(chan struct{})
	var once sync.Once
	received := make(chan events.Event, 8)
	bus.Subscribe(events.EventTypeStateUpdated, func(ev events.Event) {
		once.Do(func() { <-block })
		received <- ev
	})

	p := NewBusPublisher(bus)
	drops := 0
	p.OnDrop(func() { drops++ })

	// The first event occupies the handler, the second the queue
	for i := 0; i < 10; i++ {
		p.Publish(snapshot(i))
	}
	close(block)

	assert.Greater(t, p.Dropped(), uint64(0))
	assert.Equal(t, int(p.Dropped()), drops)

	ev := <-received
	assert.Equal(t, events.EventTypeStateUpdated, ev.Type)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	var mu sync.Mutex
	var counts []int
	hub.OnClientsChanged(func(n int) {
		mu.Lock()
		defer mu.Unlock()
		counts = append(counts, n)
	})

	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Publish(snapshot(1))

	conn := dial(t, srv)
	defer conn.Close()

	// New listeners get the latest snapshot straight away
	msg := readSnapshot(t, conn)
	assert.Equal(t, float64(1), msg["currentFrame"])
	assert.Equal(t, true, msg["isRunning"])
	assert.Equal(t, "default", msg["activeProfile"])

	hub.Publish(snapshot(1)) // unchanged, not resent
	hub.Publish(snapshot(2))
	msg = readSnapshot(t, conn)
	assert.Equal(t, float64(2), msg["currentFrame"])

	assert.Equal(t, 1, hub.ClientCount())
	conn.Close()
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(counts) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 0}, counts)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubSlowListenerGetsNewest(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 50; i++ {
		hub.Publish(snapshot(i))
	}

	// Whatever was skipped, the last message read is the newest snapshot
	var last float64
	for last != 49 {
		last = readSnapshot(t, conn)["currentFrame"].(float64)
	}
	assert.Equal(t, float64(49), last)
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
