package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/lifelog/internal/logging"
	"github.com/dmitrijs2005/lifelog/internal/server/entries"
	"github.com/dmitrijs2005/lifelog/internal/server/scheduler"
	"github.com/dmitrijs2005/lifelog/internal/server/storage"
)

// maxFeedSources caps how many of the newest source batches are pulled per
// sync; older batches are assumed already ingested.
const maxFeedSources = 10

// sensorDecoders maps the feed's sensor names to payload decoders.
var sensorDecoders = map[string]func(json.RawMessage) (entries.Payload, error){
	"heart_rate": func(raw json.RawMessage) (entries.Payload, error) {
		var p entries.HeartRate
		return p, json.Unmarshal(raw, &p)
	},
	"sleep": func(raw json.RawMessage) (entries.Payload, error) {
		var p entries.SleepState
		return p, json.Unmarshal(raw, &p)
	},
	"gps": func(raw json.RawMessage) (entries.Payload, error) {
		var p entries.Geolocation
		return p, json.Unmarshal(raw, &p)
	},
	"accelerometer": func(raw json.RawMessage) (entries.Payload, error) {
		var p entries.AccelerometerData
		return p, json.Unmarshal(raw, &p)
	},
}

// SensorFeedConnector pulls sensor sample batches from a device feed service.
// The feed groups samples into sources (one source per upload from a device);
// each source's last_updated marker is kept as a cursor so an unchanged source
// is not pulled again.
type SensorFeedConnector struct {
	id           string
	baseURL      string
	dataSourceID string
	client       *http.Client
	inserter     *Inserter
	state        *storage.HandlerState
	log          logging.Logger

	mu           sync.Mutex
	lastSync     time.Time
	samplesTotal int
}

func NewSensorFeedConnector(id, baseURL, dataSourceID string, client *http.Client, inserter *Inserter, state *storage.HandlerState, log logging.Logger) *SensorFeedConnector {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SensorFeedConnector{
		id:           id,
		baseURL:      baseURL,
		dataSourceID: dataSourceID,
		client:       client,
		inserter:     inserter,
		state:        state,
		log:          log.With("connector", id),
	}
}

func (c *SensorFeedConnector) ID() string { return c.id }

func (c *SensorFeedConnector) Capabilities() scheduler.Capabilities {
	return scheduler.Capabilities{NeedsStorage: true}
}

func (c *SensorFeedConnector) OnInterval(ctx context.Context, ilog *scheduler.InsertionLog) error {
	return c.sync(ctx, ilog)
}

func (c *SensorFeedConnector) OnRequest(ctx context.Context, ilog *scheduler.InsertionLog, _ scheduler.Request) error {
	return c.sync(ctx, ilog)
}

func (c *SensorFeedConnector) OnNewFile(_ context.Context, _ *scheduler.InsertionLog, _ string) error {
	return errors.New("sensor feed connector does not take file input")
}

func (c *SensorFeedConnector) RPCHandlers() map[string]scheduler.RPCHandler { return nil }

func (c *SensorFeedConnector) Status(_ context.Context) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := map[string]any{"samples_ingested": c.samplesTotal}
	if !c.lastSync.IsZero() {
		s["last_sync"] = c.lastSync.Format(time.RFC3339)
	}
	return s
}

type availableSourcesResponse struct {
	Data struct {
		SourceUUIDs []string `json:"source_uuids"`
		Metadatas   map[string]struct {
			LastUpdated int64 `json:"last_updated"`
		} `json:"metadatas"`
	} `json:"data"`
}

type sensorSample struct {
	Timestamp int64           `json:"timestamp"`
	Sensor    string          `json:"sensor"`
	Value     json.RawMessage `json:"value"`
}

type sensorInfoResponse struct {
	Data []sensorSample `json:"data"`
}

func (c *SensorFeedConnector) sync(ctx context.Context, ilog *scheduler.InsertionLog) error {
	var avail availableSourcesResponse
	if err := c.getJSON(ctx, "available_sensor_info", nil, &avail); err != nil {
		return fmt.Errorf("listing sensor sources: %w", err)
	}

	sources := avail.Data.SourceUUIDs
	if len(sources) > maxFeedSources {
		sources = sources[len(sources)-maxFeedSources:]
	}

	var errs []error
	for _, sourceUUID := range sources {
		lastUpdated := avail.Data.Metadatas[sourceUUID].LastUpdated
		cursorKey := "source_" + sourceUUID

		stored, err := c.state.Get(ctx, cursorKey)
		if err == nil && stored == strconv.FormatInt(lastUpdated, 10) {
			continue
		}

		if err := c.pullSource(ctx, ilog, sourceUUID); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", sourceUUID, err))
			continue
		}
		if err := c.state.Set(ctx, cursorKey, strconv.FormatInt(lastUpdated, 10)); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	c.lastSync = time.Now()
	c.mu.Unlock()
	return errors.Join(errs...)
}

// pullSource fetches and ingests every sample of one source batch. Identity
// comes from the group "sensor_feed_{source}" plus the sample index, so a
// re-pull mutates in place.
func (c *SensorFeedConnector) pullSource(ctx context.Context, ilog *scheduler.InsertionLog, sourceUUID string) error {
	var resp sensorInfoResponse
	params := url.Values{"source_uuid": []string{sourceUUID}}
	if err := c.getJSON(ctx, "get_sensor_info", params, &resp); err != nil {
		return err
	}

	groupID := fmt.Sprintf("sensor_feed_%s", sourceUUID)
	ingested := 0
	for i, sample := range resp.Data {
		decode, ok := sensorDecoders[sample.Sensor]
		if !ok {
			c.log.Warn(ctx, "skipping unknown sensor", "sensor", sample.Sensor, "source_uuid", sourceUUID)
			continue
		}
		payload, err := decode(sample.Value)
		if err != nil {
			c.log.Error(ctx, "failed to decode sample", "sensor", sample.Sensor, "source_uuid", sourceUUID, "error", err.Error())
			continue
		}

		seq := i
		e := &entries.Entry{
			Type:           payload.Kind(),
			Data:           payload,
			StartTime:      sample.Timestamp,
			GroupID:        groupID,
			SeqID:          &seq,
			InputHandlerID: c.id,
		}
		if geo, ok := payload.(entries.Geolocation); ok {
			e.Latitude = &geo.Latitude
			e.Longitude = &geo.Longitude
		}
		c.inserter.Insert(ctx, ilog, e)
		ingested++
	}

	c.mu.Lock()
	c.samplesTotal += ingested
	c.mu.Unlock()
	return nil
}

func (c *SensorFeedConnector) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("data_source_id", c.dataSourceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, params.Encode()), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
