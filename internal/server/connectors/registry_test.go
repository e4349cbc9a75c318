package connectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/lifelog/internal/timex"
)

func TestBuildConnectors(t *testing.T) {
	env := newTestEnv(t)
	deps := Deps{Inserter: env.inserter, States: env.states, Log: env.log}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "day page", cfg: Config{
			ID: "pages", Type: "day_page",
			Interval: timex.Duration{Duration: time.Minute},
			Settings: map[string]string{"base_url": "http://pages.local"},
		}},
		{name: "journal zip", cfg: Config{ID: "journal", Type: "journal_zip"}},
		{name: "sensor feed", cfg: Config{
			ID: "sensors", Type: "sensor_feed",
			Settings: map[string]string{"base_url": "http://feed.local", "data_source_id": "ds-1"},
		}},
		{name: "activity api", cfg: Config{
			ID: "tracker", Type: "activity_api",
			Settings: map[string]string{"base_url": "http://api.local"},
		}},
		{name: "missing id", cfg: Config{Type: "journal_zip"}, wantErr: true},
		{name: "missing base url", cfg: Config{ID: "pages", Type: "day_page"}, wantErr: true},
		{name: "unknown type", cfg: Config{ID: "x", Type: "carrier_pigeon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, interval, err := Build(tt.cfg, deps)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.cfg.ID, conn.ID())
			require.Equal(t, tt.cfg.Interval.Duration, interval)
		})
	}
}
