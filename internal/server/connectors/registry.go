package connectors

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/lifelog/internal/logging"
	"github.com/dmitrijs2005/lifelog/internal/server/scheduler"
	"github.com/dmitrijs2005/lifelog/internal/server/storage"
	"github.com/dmitrijs2005/lifelog/internal/timex"
)

// Config describes one connector instance. Settings keys depend on the type:
//
//	day_page:     base_url, token (optional)
//	journal_zip:  (none)
//	sensor_feed:  base_url, data_source_id
//	activity_api: base_url
type Config struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Interval timex.Duration    `json:"interval"`
	Settings map[string]string `json:"settings"`
}

// Deps carries the shared collaborators handed to every connector.
type Deps struct {
	Inserter *Inserter
	States   storage.StateStore
	Client   *http.Client
	Log      logging.Logger
}

// Build constructs the connector named by the config. The returned interval is
// zero for connectors that only react to files or manual triggers.
func Build(cfg Config, deps Deps) (scheduler.Connector, time.Duration, error) {
	if cfg.ID == "" {
		return nil, 0, fmt.Errorf("connector of type %q has no id", cfg.Type)
	}
	state := storage.NewHandlerState(deps.States, cfg.ID)
	interval := cfg.Interval.Duration

	switch cfg.Type {
	case "day_page":
		baseURL := cfg.Settings["base_url"]
		if baseURL == "" {
			return nil, 0, fmt.Errorf("connector %s: missing base_url", cfg.ID)
		}
		source := NewHTTPPageSource(baseURL, cfg.Settings["token"], deps.Client)
		return NewDayPageConnector(cfg.ID, source, deps.Inserter, state, deps.Log), interval, nil

	case "journal_zip":
		return NewJournalZipConnector(cfg.ID, deps.Inserter, deps.Log), interval, nil

	case "sensor_feed":
		baseURL := cfg.Settings["base_url"]
		dataSourceID := cfg.Settings["data_source_id"]
		if baseURL == "" || dataSourceID == "" {
			return nil, 0, fmt.Errorf("connector %s: missing base_url or data_source_id", cfg.ID)
		}
		return NewSensorFeedConnector(cfg.ID, baseURL, dataSourceID, deps.Client, deps.Inserter, state, deps.Log), interval, nil

	case "activity_api":
		baseURL := cfg.Settings["base_url"]
		if baseURL == "" {
			return nil, 0, fmt.Errorf("connector %s: missing base_url", cfg.ID)
		}
		return NewActivityAPIConnector(cfg.ID, baseURL, deps.Client, deps.Inserter, state, deps.Log), interval, nil

	default:
		return nil, 0, fmt.Errorf("unknown connector type %q", cfg.Type)
	}
}
