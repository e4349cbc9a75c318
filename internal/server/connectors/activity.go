package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dmitrijs2005/lifelog/internal/common"
	"github.com/dmitrijs2005/lifelog/internal/logging"
	"github.com/dmitrijs2005/lifelog/internal/server/entries"
	"github.com/dmitrijs2005/lifelog/internal/server/scheduler"
	"github.com/dmitrijs2005/lifelog/internal/server/storage"
)

const (
	activityPageLimit = 20
	maxActivityPages  = 10

	accessTokenKey = "access_token"
	afterDateKey   = "after_date"
)

// activityTimeLayout is the start-time format used by tracker APIs.
const activityTimeLayout = "2006-01-02T15:04:05.000-07:00"

// ActivityAPIConnector pulls logged activities from a fitness tracker's REST
// API. The bearer token is provisioned at runtime through the set_access_token
// RPC and kept in connector state; syncs walk the paginated activity list
// forward from the last seen start date.
type ActivityAPIConnector struct {
	id       string
	baseURL  string
	client   *http.Client
	inserter *Inserter
	state    *storage.HandlerState
	log      logging.Logger

	mu                 sync.Mutex
	lastSync           time.Time
	activitiesIngested int
}

func NewActivityAPIConnector(id, baseURL string, client *http.Client, inserter *Inserter, state *storage.HandlerState, log logging.Logger) *ActivityAPIConnector {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ActivityAPIConnector{
		id:       id,
		baseURL:  baseURL,
		client:   client,
		inserter: inserter,
		state:    state,
		log:      log.With("connector", id),
	}
}

func (c *ActivityAPIConnector) ID() string { return c.id }

func (c *ActivityAPIConnector) Capabilities() scheduler.Capabilities {
	return scheduler.Capabilities{NeedsStorage: true}
}

func (c *ActivityAPIConnector) OnInterval(ctx context.Context, ilog *scheduler.InsertionLog) error {
	return c.sync(ctx, ilog)
}

func (c *ActivityAPIConnector) OnRequest(ctx context.Context, ilog *scheduler.InsertionLog, _ scheduler.Request) error {
	return c.sync(ctx, ilog)
}

func (c *ActivityAPIConnector) OnNewFile(_ context.Context, _ *scheduler.InsertionLog, _ string) error {
	return errors.New("activity connector does not take file input")
}

func (c *ActivityAPIConnector) RPCHandlers() map[string]scheduler.RPCHandler {
	return map[string]scheduler.RPCHandler{
		"set_access_token": c.rpcSetAccessToken,
		"status": func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			return c.Status(ctx), nil
		},
	}
}

func (c *ActivityAPIConnector) rpcSetAccessToken(ctx context.Context, params map[string]any) (map[string]any, error) {
	token, _ := params["token"].(string)
	if token == "" {
		return nil, errors.New("missing token parameter")
	}
	if err := c.state.Set(ctx, accessTokenKey, token); err != nil {
		return nil, err
	}
	return map[string]any{"authorized": true}, nil
}

func (c *ActivityAPIConnector) Status(ctx context.Context) map[string]any {
	token, err := c.state.Get(ctx, accessTokenKey)

	c.mu.Lock()
	defer c.mu.Unlock()
	s := map[string]any{
		"authorized":          err == nil && token != "",
		"activities_ingested": c.activitiesIngested,
	}
	if !c.lastSync.IsZero() {
		s["last_sync"] = c.lastSync.Format(time.RFC3339)
	}
	return s
}

type activityListResponse struct {
	Activities []activityItem `json:"activities"`
	Pagination struct {
		Next string `json:"next"`
	} `json:"pagination"`
}

type activityItem struct {
	LogID            int64   `json:"logId"`
	ActivityName     string  `json:"activityName"`
	StartTime        string  `json:"startTime"`
	Duration         int64   `json:"duration"`
	Calories         float64 `json:"calories"`
	Steps            int64   `json:"steps"`
	AverageHeartRate float64 `json:"averageHeartRate"`
}

func (c *ActivityAPIConnector) sync(ctx context.Context, ilog *scheduler.InsertionLog) error {
	token, err := c.state.Get(ctx, accessTokenKey)
	if err != nil || token == "" {
		c.log.Warn(ctx, "skipping sync, no access token configured")
		return nil
	}

	afterDate, err := c.state.Get(ctx, afterDateKey)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if afterDate == "" {
		afterDate = "1970-01-01"
	}

	params := url.Values{
		"afterDate": []string{afterDate},
		"sort":      []string{"asc"},
		"offset":    []string{"0"},
		"limit":     []string{fmt.Sprintf("%d", activityPageLimit)},
	}
	next := fmt.Sprintf("%s/activities/list.json?%s", c.baseURL, params.Encode())

	var latestStart string
	for page := 0; next != "" && page < maxActivityPages; page++ {
		var resp activityListResponse
		if err := c.getJSON(ctx, next, token, &resp); err != nil {
			return fmt.Errorf("fetching activity list: %w", err)
		}

		for _, item := range resp.Activities {
			if err := c.ingestActivity(ctx, ilog, item); err != nil {
				c.log.Error(ctx, "failed to ingest activity", "log_id", item.LogID, "error", err.Error())
				continue
			}
			if item.StartTime > latestStart {
				latestStart = item.StartTime
			}
		}
		next = resp.Pagination.Next
	}

	if latestStart != "" {
		if t, err := time.Parse(activityTimeLayout, latestStart); err == nil {
			if err := c.state.Set(ctx, afterDateKey, t.Format("2006-01-02")); err != nil {
				return err
			}
		}
	}

	c.mu.Lock()
	c.lastSync = time.Now()
	c.mu.Unlock()
	return nil
}

// ingestActivity stores one logged activity. The upstream log id anchors the
// content hash, so an activity already ingested on a previous overlapping page
// is skipped instead of mutated.
func (c *ActivityAPIConnector) ingestActivity(ctx context.Context, ilog *scheduler.InsertionLog, item activityItem) error {
	start, err := time.Parse(activityTimeLayout, item.StartTime)
	if err != nil {
		return fmt.Errorf("parsing start time %q: %w", item.StartTime, err)
	}
	startMS := start.UnixMilli()
	endMS := startMS + item.Duration

	e := &entries.Entry{
		Type: entries.TypeActivity,
		Data: entries.Activity{
			LogID:        item.LogID,
			ActivityName: item.ActivityName,
			DurationMS:   item.Duration,
			Calories:     item.Calories,
			Steps:        item.Steps,
			AvgHeartRate: item.AverageHeartRate,
		},
		StartTime:      startMS,
		EndTime:        &endMS,
		InputHandlerID: c.id,
	}

	if _, err := c.inserter.Manager().Get(ctx, e.UUID()); err == nil {
		return nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	c.inserter.Insert(ctx, ilog, e)
	c.mu.Lock()
	c.activitiesIngested++
	c.mu.Unlock()
	return nil
}

func (c *ActivityAPIConnector) getJSON(ctx context.Context, rawURL, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("activity api returned %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
