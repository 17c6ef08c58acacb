package websocket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gwebsocket "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/websocket"
)

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func startHub(t *testing.T, history websocket.HistoryFunc) (*websocket.Hub, string, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub(history, nil)
	go hub.Run(ctx)

	upgrader := gwebsocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		websocket.NewClient(hub, conn).Serve()
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string) *gwebsocket.Conn {
	t.Helper()
	conn, _, err := gwebsocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func next(t *testing.T, conn *gwebsocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubSendsHistoryThenBroadcasts(t *testing.T) {
	hub, url, _ := startHub(t, func() websocket.History {
		return websocket.History{
			Alarms:     []data.AlarmEntry{{ID: "a1", SensorID: "P1.fire-1", Severity: data.StatusDanger}},
			Facilities: []data.FacilitySummary{{FacilityID: "P1", FireStatus: data.StatusDanger}},
		}
	})
	conn := dial(t, url)

	msg := next(t, conn)
	require.Equal(t, websocket.TypeHistory, msg.Type)
	var history websocket.History
	require.NoError(t, json.Unmarshal(msg.Payload, &history))
	require.Len(t, history.Alarms, 1)
	require.Equal(t, "P1", history.Facilities[0].FacilityID)

	require.Eventually(t, func() bool { return hub.Clients(context.Background()) == 1 }, time.Second, 5*time.Millisecond)

	hub.PublishReading(data.SensorState{
		SensorID:     "P1.vibration-1",
		Status:       data.StatusWarning,
		CurrentValue: data.Num(640),
		LiveWindow:   []data.Reading{{Value: data.Num(640)}},
	})
	msg = next(t, conn)
	require.Equal(t, websocket.TypeReading, msg.Type)
	var state data.SensorState
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	require.Equal(t, "P1.vibration-1", state.SensorID)
	require.Equal(t, data.Num(640), state.CurrentValue)
	require.Empty(t, state.LiveWindow)

	hub.NotifyAlarm(data.AlarmEntry{ID: "a2", TriggeringValue: "1200"})
	msg = next(t, conn)
	require.Equal(t, websocket.TypeAlarm, msg.Type)
	require.Contains(t, string(msg.Payload), `"1200"`)
}

func TestHubDisconnectsClientsOnShutdown(t *testing.T) {
	hub, url, cancel := startHub(t, nil)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients(context.Background()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Zero(t, hub.Clients(context.Background()))

	// Publishing after shutdown never blocks.
	for range 2000 {
		hub.NotifyAlarm(data.AlarmEntry{ID: "late"})
	}
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, url, _ := startHub(t, nil)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients(context.Background()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients(context.Background()) == 0 }, time.Second, 5*time.Millisecond)
}
