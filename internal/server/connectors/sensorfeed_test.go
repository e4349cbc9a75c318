package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/lifelog/internal/server/entries"
	"github.com/dmitrijs2005/lifelog/internal/server/scheduler"
)

type sensorFeedFixture struct {
	sourceUUIDs []string
	lastUpdated map[string]int64
	samples     map[string][]sensorSample

	infoCalls atomic.Int64
}

func (f *sensorFeedFixture) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/available_sensor_info", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ds-1", r.URL.Query().Get("data_source_id"))
		metas := map[string]map[string]int64{}
		for uuid, lu := range f.lastUpdated {
			metas[uuid] = map[string]int64{"last_updated": lu}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"source_uuids": f.sourceUUIDs,
			"metadatas":    metas,
		}})
	})
	mux.HandleFunc("/get_sensor_info", func(w http.ResponseWriter, r *http.Request) {
		f.infoCalls.Add(1)
		uuid := r.URL.Query().Get("source_uuid")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.samples[uuid]})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func rawValue(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestSensorFeedSync(t *testing.T) {
	env := newTestEnv(t)
	fixture := &sensorFeedFixture{
		sourceUUIDs: []string{"src-1"},
		lastUpdated: map[string]int64{"src-1": 100},
		samples: map[string][]sensorSample{"src-1": {
			{Timestamp: 1000, Sensor: "heart_rate", Value: rawValue(t, entries.HeartRate{HeartRate: 62})},
			{Timestamp: 2000, Sensor: "gps", Value: rawValue(t, entries.Geolocation{Latitude: 56.9, Longitude: 24.1})},
			{Timestamp: 3000, Sensor: "sleep", Value: rawValue(t, entries.SleepState{State: "light"})},
			{Timestamp: 4000, Sensor: "barometer", Value: rawValue(t, map[string]any{"hpa": 1013})},
		}},
	}
	srv := fixture.server(t)
	conn := NewSensorFeedConnector("sensors", srv.URL, "ds-1", srv.Client(), env.inserter, env.handlerState("sensors"), env.log)

	ilog := scheduler.NewInsertionLog()
	require.NoError(t, conn.OnInterval(context.Background(), ilog))

	group := fetchGroup(t, env, "sensor_feed_src-1")
	require.Len(t, group, 3, "unknown sensor is skipped")
	require.Equal(t, entries.TypeHeartRate, group[0].Type)

	gps := group[1]
	require.Equal(t, entries.TypeGeolocation, gps.Type)
	require.NotNil(t, gps.Latitude)
	require.Equal(t, 56.9, *gps.Latitude)

	require.Equal(t, 0, *group[0].SeqID)
	require.Equal(t, 1, *gps.SeqID)
}

func TestSensorFeedSkipsUnchangedSources(t *testing.T) {
	env := newTestEnv(t)
	fixture := &sensorFeedFixture{
		sourceUUIDs: []string{"src-1"},
		lastUpdated: map[string]int64{"src-1": 100},
		samples: map[string][]sensorSample{"src-1": {
			{Timestamp: 1000, Sensor: "heart_rate", Value: rawValue(t, entries.HeartRate{HeartRate: 60})},
		}},
	}
	srv := fixture.server(t)
	conn := NewSensorFeedConnector("sensors", srv.URL, "ds-1", srv.Client(), env.inserter, env.handlerState("sensors"), env.log)

	require.NoError(t, conn.OnInterval(context.Background(), scheduler.NewInsertionLog()))
	require.NoError(t, conn.OnInterval(context.Background(), scheduler.NewInsertionLog()))
	require.EqualValues(t, 1, fixture.infoCalls.Load(), "unchanged source is not pulled again")

	// A device upload bumps the marker; the source is pulled once more.
	fixture.lastUpdated["src-1"] = 200
	require.NoError(t, conn.OnInterval(context.Background(), scheduler.NewInsertionLog()))
	require.EqualValues(t, 2, fixture.infoCalls.Load())
}

func TestSensorFeedCapsSourceBacklog(t *testing.T) {
	env := newTestEnv(t)
	fixture := &sensorFeedFixture{lastUpdated: map[string]int64{}, samples: map[string][]sensorSample{}}
	for i := 0; i < maxFeedSources+5; i++ {
		uuid := string(rune('a'+i)) + "-src"
		fixture.sourceUUIDs = append(fixture.sourceUUIDs, uuid)
		fixture.lastUpdated[uuid] = int64(i)
	}
	srv := fixture.server(t)
	conn := NewSensorFeedConnector("sensors", srv.URL, "ds-1", srv.Client(), env.inserter, env.handlerState("sensors"), env.log)

	require.NoError(t, conn.OnInterval(context.Background(), scheduler.NewInsertionLog()))
	require.EqualValues(t, maxFeedSources, fixture.infoCalls.Load())

	// The oldest source was never pulled and has no cursor.
	_, err := env.handlerState("sensors").Get(context.Background(), "source_a-src")
	require.Error(t, err)
}

func TestSensorFeedMutatesRepulledSource(t *testing.T) {
	env := newTestEnv(t)
	fixture := &sensorFeedFixture{
		sourceUUIDs: []string{"src-1"},
		lastUpdated: map[string]int64{"src-1": 100},
		samples: map[string][]sensorSample{"src-1": {
			{Timestamp: 1000, Sensor: "sleep", Value: rawValue(t, entries.SleepState{State: "light"})},
		}},
	}
	srv := fixture.server(t)
	conn := NewSensorFeedConnector("sensors", srv.URL, "ds-1", srv.Client(), env.inserter, env.handlerState("sensors"), env.log)
	require.NoError(t, conn.OnInterval(context.Background(), scheduler.NewInsertionLog()))

	fixture.lastUpdated["src-1"] = 200
	require.NoError(t, conn.OnInterval(context.Background(), scheduler.NewInsertionLog()))

	group := fetchGroup(t, env, "sensor_feed_src-1")
	require.Len(t, group, 1, "identical re-pull does not duplicate")
}

func TestSensorFeedStatus(t *testing.T) {
	env := newTestEnv(t)
	fixture := &sensorFeedFixture{
		sourceUUIDs: []string{"src-1"},
		lastUpdated: map[string]int64{"src-1": 100},
		samples: map[string][]sensorSample{"src-1": {
			{Timestamp: 1000, Sensor: "heart_rate", Value: rawValue(t, entries.HeartRate{HeartRate: 60})},
		}},
	}
	srv := fixture.server(t)
	conn := NewSensorFeedConnector("sensors", srv.URL, "ds-1", srv.Client(), env.inserter, env.handlerState("sensors"), env.log)

	require.NoError(t, conn.OnInterval(context.Background(), scheduler.NewInsertionLog()))
	s := conn.Status(context.Background())
	require.Equal(t, 1, s["samples_ingested"])
	require.Contains(t, s, "last_sync")
}

func TestSensorFeedUnreachable(t *testing.T) {
	env := newTestEnv(t)
	conn := NewSensorFeedConnector("sensors", "http://127.0.0.1:1", "ds-1", nil, env.inserter, env.handlerState("sensors"), env.log)
	require.Error(t, conn.OnInterval(context.Background(), scheduler.NewInsertionLog()))
}
