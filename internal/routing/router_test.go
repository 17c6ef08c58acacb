package routing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/registry"
	"h2-telemetry-gateway/internal/routing"
)

func newRouter(t *testing.T) *routing.Router {
	t.Helper()
	reg, err := registry.New([]registry.Facility{{
		ID: "P1", Topic: "hyge/P1", VibrationSensors: 9, GasSensors: 3, FireSensors: 3,
	}})
	require.NoError(t, err)
	return routing.New(reg)
}

func envelope(t *testing.T, raw string) *data.Envelope {
	t.Helper()
	env, err := data.Parse([]byte(raw))
	require.NoError(t, err)
	return env
}

func TestRouteFullFrame(t *testing.T) {
	r := newRouter(t)
	routed, err := r.Route(envelope(t, `{"mqtt_data":{"topic_id":"hyge/P1","data":{
		"barr":"1200,0,0,0,0,0,0,0,0","gdet":"0,1,0","fdet":1,"last_update_time":"2024-05-01 12:00:00"}}}`))
	require.NoError(t, err)

	require.Equal(t, "P1", routed.FacilityID)
	require.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), routed.Timestamp.UTC())
	require.Len(t, routed.Frames, 3)

	require.Equal(t, data.KindVibration, routed.Frames[0].Kind)
	require.Len(t, routed.Frames[0].Values, 9)
	require.Equal(t, data.Num(1200), routed.Frames[0].Values[0])

	require.Equal(t, data.KindGas, routed.Frames[1].Kind)
	require.Equal(t, []data.Value{data.Num(0), data.Num(1), data.Num(0)}, routed.Frames[1].Values)

	require.Equal(t, data.KindFire, routed.Frames[2].Kind)
	require.Equal(t, []data.Value{data.Num(1)}, routed.Frames[2].Values)
}

func TestRouteUsesReceiveTimeWithoutTimestamp(t *testing.T) {
	r := newRouter(t)
	env := envelope(t, `{"mqtt_data":{"topic_id":"hyge/P1","data":{"gdet":0}}}`)
	routed, err := r.Route(env)
	require.NoError(t, err)
	require.Equal(t, env.ReceivedAt, routed.Timestamp)
}

func TestRouteDiscards(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		err  error
	}{
		{"unknown topic", `{"mqtt_data":{"topic_id":"hyge/P42","data":{"gdet":0}}}`, routing.ErrUnknownTopic},
		{"eight values", `{"mqtt_data":{"topic_id":"hyge/P1","data":{"barr":"1,2,3,4,5,6,7,8"}}}`, routing.ErrMalformedFrame},
		{"ten values", `{"mqtt_data":{"topic_id":"hyge/P1","data":{"barr":"1,2,3,4,5,6,7,8,9,10"}}}`, routing.ErrMalformedFrame},
		{"non numeric", `{"mqtt_data":{"topic_id":"hyge/P1","data":{"barr":"1,2,3,4,5,6,7,8,z"}}}`, routing.ErrMalformedFrame},
		{"bad gas poisons frame", `{"mqtt_data":{"topic_id":"hyge/P1","data":{"barr":"0,0,0,0,0,0,0,0,0","gdet":"x"}}}`, routing.ErrMalformedFrame},
		{"bad fire shape", `{"mqtt_data":{"topic_id":"hyge/P1","data":{"fdet":{"a":1}}}}`, routing.ErrMalformedFrame},
		{"no fields", `{"mqtt_data":{"topic_id":"hyge/P1","data":{"last_update_time":"2024-05-01T00:00:00Z"}}}`, routing.ErrEmptyFrame},
	}
	r := newRouter(t)
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			routed, err := r.Route(envelope(t, c.raw))
			require.ErrorIs(t, err, c.err)
			require.Empty(t, routed.Frames)
		})
	}
}
