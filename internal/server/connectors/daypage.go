package connectors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/lifelog/internal/common"
	"github.com/dmitrijs2005/lifelog/internal/logging"
	"github.com/dmitrijs2005/lifelog/internal/server/entries"
	"github.com/dmitrijs2005/lifelog/internal/server/scheduler"
	"github.com/dmitrijs2005/lifelog/internal/server/storage"
	"github.com/dmitrijs2005/lifelog/internal/server/timeline"
)

// PageBlock is one content block of an upstream day page.
type PageBlock struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"` // text, image, video, audio, pdf, file
	Text      string   `json:"text,omitempty"`
	CreatedAt int64    `json:"created_at"`
	FileURL   string   `json:"file_url,omitempty"`
	FileName  string   `json:"file_name,omitempty"`
	FileTime  *int64   `json:"file_time,omitempty"`
	Duration  *int64   `json:"duration_ms,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Page is one upstream day page. The revision changes whenever the page is
// edited; pages whose revision is unchanged are not returned again.
type Page struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Revision string      `json:"revision"`
	DayStart int64       `json:"day_start"`
	DayEnd   int64       `json:"day_end"`
	Blocks   []PageBlock `json:"blocks"`
}

// PageSource lists changed day pages and downloads their media attachments.
type PageSource interface {
	// ChangedPages returns the pages edited since the cursor plus the next
	// cursor value.
	ChangedPages(ctx context.Context, cursor string) ([]Page, string, error)
	// Download fetches a media block's file into destDir and returns the
	// local path.
	Download(ctx context.Context, block PageBlock, destDir string) (string, error)
}

// DayPageConnector re-ingests edited day pages from a page-based source. Each
// page becomes a group of entries; candidate identity is pinned to the page
// block so re-runs mutate in place, and blocks that disappeared from the page
// are deleted by set-difference.
type DayPageConnector struct {
	id         string
	source     PageSource
	inserter   *Inserter
	normalizer *timeline.Normalizer
	state      *storage.HandlerState
	log        logging.Logger

	mu             sync.Mutex
	lastSync       time.Time
	pagesProcessed int
}

func NewDayPageConnector(id string, source PageSource, inserter *Inserter, state *storage.HandlerState, log logging.Logger) *DayPageConnector {
	return &DayPageConnector{
		id:         id,
		source:     source,
		inserter:   inserter,
		normalizer: timeline.NewNormalizer(log),
		state:      state,
		log:        log.With("connector", id),
	}
}

func (c *DayPageConnector) ID() string { return c.id }

func (c *DayPageConnector) Capabilities() scheduler.Capabilities {
	return scheduler.Capabilities{NeedsStorage: true}
}

func (c *DayPageConnector) OnInterval(ctx context.Context, ilog *scheduler.InsertionLog) error {
	return c.sync(ctx, ilog)
}

func (c *DayPageConnector) OnRequest(ctx context.Context, ilog *scheduler.InsertionLog, _ scheduler.Request) error {
	return c.sync(ctx, ilog)
}

func (c *DayPageConnector) OnNewFile(ctx context.Context, _ *scheduler.InsertionLog, _ string) error {
	return errors.New("day page connector does not take file input")
}

func (c *DayPageConnector) RPCHandlers() map[string]scheduler.RPCHandler { return nil }

func (c *DayPageConnector) Status(_ context.Context) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := map[string]any{"pages_processed": c.pagesProcessed}
	if !c.lastSync.IsZero() {
		s["last_sync"] = c.lastSync.Format(time.RFC3339)
	}
	return s
}

func (c *DayPageConnector) sync(ctx context.Context, ilog *scheduler.InsertionLog) error {
	cursor, err := c.state.Get(ctx, "cursor")
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}

	pages, next, err := c.source.ChangedPages(ctx, cursor)
	if err != nil {
		return fmt.Errorf("listing changed pages: %w", err)
	}

	var errs []error
	for _, page := range pages {
		if err := c.processPage(ctx, ilog, page); err != nil {
			errs = append(errs, fmt.Errorf("page %s: %w", page.ID, err))
			continue
		}
		c.mu.Lock()
		c.pagesProcessed++
		c.mu.Unlock()
	}

	if len(errs) == 0 && next != cursor {
		if err := c.state.Set(ctx, "cursor", next); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	c.lastSync = time.Now()
	c.mu.Unlock()
	return errors.Join(errs...)
}

func (c *DayPageConnector) processPage(ctx context.Context, ilog *scheduler.InsertionLog, page Page) error {
	prev, err := c.inserter.Manager().GroupEntryUUIDs(ctx, page.ID)
	if err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "daypage-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	blocks, err := c.toBlocks(ctx, page, tmpDir)
	if err != nil {
		return err
	}

	cands := c.normalizer.Normalize(ctx, blocks, page.DayStart, page.DayEnd, page.ID)

	for _, cand := range cands {
		e, localPath, err := c.candidateEntry(cand)
		if err != nil {
			c.log.Error(ctx, "skipping candidate", "rep_uuid", cand.RepUUID, "error", err.Error())
			continue
		}
		if localPath != "" {
			c.inserter.InsertFile(ctx, ilog, e, localPath)
		} else {
			c.inserter.Insert(ctx, ilog, e)
		}
	}

	for _, uuid := range timeline.RemovedIdentities(prev, cands) {
		if err := c.inserter.Manager().Delete(ctx, uuid); err != nil && !errors.Is(err, common.ErrNotFound) {
			c.log.Error(ctx, "failed to delete removed entry", "entry_uuid", uuid, "error", err.Error())
		}
	}
	return nil
}

func (c *DayPageConnector) toBlocks(ctx context.Context, page Page, tmpDir string) ([]timeline.Block, error) {
	blocks := make([]timeline.Block, 0, len(page.Blocks))
	for _, pb := range page.Blocks {
		b := timeline.Block{
			ID:        pb.ID,
			Kind:      timeline.Kind(pb.Kind),
			Text:      pb.Text,
			CreatedAt: pb.CreatedAt,
		}
		if b.Kind != timeline.KindText {
			path, err := c.source.Download(ctx, pb, tmpDir)
			if err != nil {
				return nil, fmt.Errorf("downloading block %s: %w", pb.ID, err)
			}
			b.File = &timeline.FileRef{
				LocalPath:  path,
				CreatedAt:  pb.FileTime,
				DurationMS: pb.Duration,
				Latitude:   pb.Latitude,
				Longitude:  pb.Longitude,
			}
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// candidateEntry turns a normalized candidate into an entry. Identity is
// pinned to the candidate's page-block derived uuid so re-ingesting an edited
// page mutates in place instead of duplicating.
func (c *DayPageConnector) candidateEntry(cand *timeline.Candidate) (*entries.Entry, string, error) {
	seq := cand.SeqID

	if cand.Kind == timeline.KindText {
		e := &entries.Entry{
			Type:           entries.TypeText,
			Data:           entries.TextPayload{Text: cand.Text},
			StartTime:      cand.StartTime,
			EndTime:        cand.EndTime,
			Latitude:       cand.Latitude,
			Longitude:      cand.Longitude,
			GroupID:        cand.GroupID,
			SeqID:          &seq,
			InputHandlerID: c.id,
			UUIDOverride:   cand.RepUUID,
		}
		return e, "", nil
	}

	if cand.File == nil {
		return nil, "", fmt.Errorf("media candidate %s has no file", cand.RepUUID)
	}
	e := entries.NewFileEntry(entries.NewFileDetail(cand.File.LocalPath, cand.File.Metadata), cand.StartTime, c.id)
	e.EndTime = cand.EndTime
	e.Latitude = cand.Latitude
	e.Longitude = cand.Longitude
	e.GroupID = cand.GroupID
	e.SeqID = &seq
	e.UUIDOverride = cand.RepUUID
	return e, cand.File.LocalPath, nil
}
